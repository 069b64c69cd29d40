package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/anywhere/internal/logger"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

type htmlMessage struct {
	Title   string
	Heading string
	Message string
}

// defaultHTMLMessages maps HTTP status codes to their default HTML messages.
var defaultHTMLMessages = map[int]htmlMessage{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusServiceUnavailable: {
		Title:   "503 Service Unavailable",
		Heading: "Service Unavailable",
		Message: "The server is shutting down.",
	},
}

// PrefersJSON reports whether the most preferred media type in an Accept
// header is application/json. Ties on q-value go to the more specific type,
// then to the earlier entry.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, partStr := range strings.Split(acceptHeaderValue, ",") {
		partStr = strings.TrimSpace(partStr)
		mediaType := partStr
		qValue := 1.0

		if idx := strings.Index(partStr, ";"); idx != -1 {
			mediaType = strings.TrimSpace(partStr[:idx])
			for _, param := range strings.Split(partStr[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				q, err := strconv.ParseFloat(param[2:], 64)
				if err != nil || q < 0 || q > 1 {
					q = 0
				}
				qValue = q
				break
			}
		}

		// q=0 means "not acceptable" (RFC 7231 5.3.1).
		if qValue > 0 && mediaType != "" {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         qValue,
				specific:  !strings.HasSuffix(mediaType, "/*") && mediaType != "*/*",
				order:     i,
			})
		}
	}

	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})

	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends a JSON or HTML error page depending on the
// request's Accept header. It is used for router-level failures; the static
// handler's own 404 keeps its plain-text body.
func WriteErrorResponse(w http.ResponseWriter, statusCode int, requestHeaders http.Header, detailMessage string, log *logger.Logger) error {
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	var body []byte
	var contentType string
	jsonMarshalFailed := false

	shouldSendJSON := requestHeaders != nil && PrefersJSON(requestHeaders.Get("Accept"))

	if shouldSendJSON {
		contentType = "application/json; charset=utf-8"
		var marshalErr error
		body, marshalErr = jsonMarshalFunc(ErrorResponseJSON{
			Error: ErrorDetail{
				StatusCode: statusCode,
				Message:    statusText,
				Detail:     detailMessage,
			},
		})
		if marshalErr != nil {
			if log != nil {
				log.Error("Failed to marshal JSON error response, falling back to HTML.", logger.LogFields{"error": marshalErr.Error(), "statusCode": statusCode})
			}
			jsonMarshalFailed = true
		}
	}

	if !shouldSendJSON || jsonMarshalFailed {
		contentType = "text/html; charset=utf-8"
		msg, isKnownCode := defaultHTMLMessages[statusCode]
		if !isKnownCode {
			msg = htmlMessage{
				Title:   fmt.Sprintf("%d %s", statusCode, statusText),
				Heading: statusText,
				Message: "The server encountered an error processing your request.",
			}
		}

		messageBody := html.EscapeString(msg.Message)
		if detailMessage != "" {
			escapedDetail := html.EscapeString(detailMessage)
			if isKnownCode {
				messageBody = messageBody + " " + escapedDetail
			} else {
				messageBody = escapedDetail
			}
		}
		body = GenerateHTMLResponseBody(msg.Title, msg.Heading, messageBody)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(statusCode)

	if _, err := w.Write(body); err != nil {
		if log != nil {
			log.Error("Failed to send error response body.", logger.LogFields{"error": err.Error(), "statusCode": statusCode})
		}
		return fmt.Errorf("failed to send error response body (status %d): %w", statusCode, err)
	}
	return nil
}

// SendDefaultErrorResponse is WriteErrorResponse for callers that only have
// the request at hand. req may be nil, which yields an HTML page.
func SendDefaultErrorResponse(w http.ResponseWriter, statusCode int, req *http.Request, optionalDetail string, log *logger.Logger) {
	var reqHeaders http.Header
	if req != nil {
		reqHeaders = req.Header
	}
	// WriteErrorResponse already logs write failures.
	_ = WriteErrorResponse(w, statusCode, reqHeaders, optionalDetail, log)
}

// GenerateHTMLResponseBody creates a simple HTML error page. message is
// inserted verbatim and must already be escaped.
func GenerateHTMLResponseBody(title, heading, message string) []byte {
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(heading), message))
}
