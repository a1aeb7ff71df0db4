// Package logging sets up structured JSON logging for tablerag. Logs go to
// a size-rotated file under ~/.tablerag/logs and, outside server mode, to
// stderr as well. The package also reads those files back for the
// `tablerag logs` command.
package logging
