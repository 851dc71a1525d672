package application

import "log/slog"

// ModuleName is the value of the "module" attribute on every log record.
const ModuleName = "asset-payouts/snapshot-service"

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
