package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"distdetect/internal/logger"

	"github.com/gorilla/mux"
)

// logFiles maps the {level} route variable onto log file names.
var logFiles = map[string]string{
	"info":    logger.InfoFile,
	"warning": logger.WarningFile,
	"error":   logger.ErrorFile,
}

// ShowLogsHandler serves the log file of the {level} route variable as text/plain.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFiles[mux.Vars(r)["level"]]
		if !ok {
			http.Error(w, "Unknown log level", http.StatusNotFound)
			return
		}
		serveLogFile(w, r, logger.Dir(), filename)
	}
}

// serveLogFile is a helper that sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	if logDir == "" {
		http.Error(w, "File logging is disabled", http.StatusNotFound)
		return
	}
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}

// ClearLogsHandler truncates the log file of the {level} route variable.
func ClearLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFiles[mux.Vars(r)["level"]]
		if !ok {
			http.Error(w, "Unknown log level", http.StatusNotFound)
			return
		}
		if err := logger.CleanLogs(filename); err != nil {
			logger.Error("Error clearing %s: %v", filename, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
