// Package logging provides structured logging using uber/zap.
//
// Production logs are sampled JSON on stderr; development logs are colored
// console lines at whatever level is configured.
//
// Components receive a *Logger explicitly and attach their own scope with
// Named and With, so a line from a terminal pump carries the session ID:
//
//	logger := logging.NewDefault().Named("terminal")
//	logger.Info("session started", zap.String("session_id", sid))
package logging
