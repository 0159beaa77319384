package api

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/qri-io/jsonschema"

	"github.com/pinpoint-geo/pinpoint/geodb"
)

var handlePostRequestJSONSchema = func() *jsonschema.Schema {
	data := `{
        "type": "object",
        "required": [
            "ips"
        ],
        "additionalProperties": false,
        "properties": {
            "ips": {
                "type": "array",
                "minItems": 1,
                "maxItems": 256,
                "items": {
                    "type": "string",
                    "minLength": 2,
                    "maxLength": 45
                }
            }
        }
    }`

	rv := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(data), rv); err != nil {
		panic(err)
	}

	return rv
}()

type handlePostRequest struct {
	IPs []string `json:"ips"`
}

type handlePostResponse struct {
	Results []geodb.BatchResult `json:"results"`
}

type httpHandler struct {
	locator *geodb.Locator
}

func (h httpHandler) handleHealth(w http.ResponseWriter, req *http.Request) {
	h.encodeJSON(w, map[string]string{"status": "healthy"})
}

func (h httpHandler) handleGetIP(w http.ResponseWriter, req *http.Request) {
	resolved, err := h.locator.Lookup(req.Context(), chi.URLParam(req, "ip"))

	switch {
	case errors.Is(err, geodb.ErrInvalidIP):
		h.sendError(w, err, "Cannot parse IP address", http.StatusBadRequest)
	case errors.Is(err, geodb.ErrNotFound):
		h.sendError(w, err, "IP address is not found", http.StatusNotFound)
	case errors.Is(err, geodb.ErrDatabaseNotReady):
		h.sendError(w, err, "Database is not ready yet", http.StatusServiceUnavailable)
	case err != nil:
		h.sendError(w, err, "Cannot resolve IP address", 0)
	default:
		h.encodeJSON(w, resolved)
	}
}

func (h httpHandler) handlePost(w http.ResponseWriter, req *http.Request) {
	if !strings.Contains(req.Header.Get("Content-Type"), "application/json") {
		h.sendError(w, nil, "Incorrect content type", http.StatusUnsupportedMediaType)

		return
	}

	bodyBytes, err := ioutil.ReadAll(req.Body)

	req.Body.Close()

	if err != nil {
		h.sendError(w, err, "Cannot read request body", http.StatusBadRequest)

		return
	}

	errs, err := handlePostRequestJSONSchema.ValidateBytes(req.Context(), bodyBytes)
	if err != nil {
		h.sendError(w, err, "Cannot validate body", http.StatusInternalServerError)

		return
	}

	if len(errs) > 0 {
		h.sendError(w, errs[0], "Invalid request body", http.StatusBadRequest)

		return
	}

	parsedRequest := &handlePostRequest{}
	if err := json.Unmarshal(bodyBytes, parsedRequest); err != nil {
		h.sendError(w, err, "Cannot parse request JSON", http.StatusBadRequest)

		return
	}

	results, err := h.locator.ResolveAll(req.Context(), parsedRequest.IPs)
	if err != nil {
		h.sendError(w, err, "Cannot resolve given IPs", 0)

		return
	}

	h.encodeJSON(w, handlePostResponse{Results: results})
}

func (h httpHandler) encodeJSON(w http.ResponseWriter, data interface{}) {
	encoder := json.NewEncoder(w)

	encoder.SetEscapeHTML(false)
	encoder.Encode(data) // nolint: errcheck
}

func (h httpHandler) sendError(w http.ResponseWriter, err error, message string, statusCode int) {
	e := &httpError{
		message:    message,
		statusCode: statusCode,
		err:        err,
	}

	w.WriteHeader(e.StatusCode())
	h.encodeJSON(w, e)
}
