// Package logging builds the service's slog logger.
//
// Every record carries the service name and build version. Level and
// format (json or text) come from the logging section of the config, and
// output can go to stdout, stderr or a size-rotated file:
//
//	logging:
//	  level: info
//	  format: json
//	  output: file
//	  file:
//	    path: ./logs/graylogic-access.log
//	    max_size: 50
//	    max_backups: 3
//
// PINs, card UIDs and tokens must never appear in log fields; log the
// user or door ID instead.
package logging
