package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/go-playground/validator/v10"
)

type errorResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)

	if payload == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Error("Unable to encode response payload: ", err)
	}
}

func decodeJSON(body io.ReadCloser, data interface{}) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(&data); err != nil {
		return errors.New("Request body includes malformed json")
	}

	if err := validator.New().Struct(data); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) == false {
			return err
		}
		fields := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			fields = append(fields, fieldError.Field())
		}
		return fmt.Errorf("Request body is missing required fields: %s", strings.Join(fields, ", "))
	}

	if dec.More() {
		return errors.New("Request body must only contain one json object")
	}

	return nil
}
