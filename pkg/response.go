package pkg

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

var ContentType = struct {
	JSON string
	Text string
}{
	JSON: "application/json",
	Text: "text/plain; charset=utf-8",
}

func WriteResponse(w http.ResponseWriter, contentType, message string, statusCode int) {
	WriteResponseBytes(w, contentType, []byte(message), statusCode)
}

func WriteResponseBytes(w http.ResponseWriter, contentType string, message []byte, statusCode int) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(statusCode)
	if _, err := w.Write(message); err != nil {
		log.Errorf("failed to write response: %s", err)
	}
}

func WriteResponseBytesOK(w http.ResponseWriter, contentType string, message []byte) {
	WriteResponseBytes(w, contentType, message, http.StatusOK)
}

func WriteTextResponseOK(w http.ResponseWriter, message string) {
	WriteResponse(w, ContentType.Text, message, http.StatusOK)
}
