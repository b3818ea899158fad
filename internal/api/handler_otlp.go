package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"
)

// IngestOTLP ingests an OTLP/HTTP logs export in protobuf or JSON encoding.
// Rejected records are reported as a partial success.
func (h *APIHandler) IngestOTLP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, bodyReadStatus(err), err.Error())
		return
	}

	ct := contentTypeProtobuf
	if v := r.Header.Get("Content-Type"); v != "" {
		if mt, _, err := mime.ParseMediaType(v); err == nil {
			ct = mt
		}
	}

	req := &collogspb.ExportLogsServiceRequest{}
	switch ct {
	case contentTypeProtobuf:
		err = proto.Unmarshal(body, req)
	case contentTypeJSON:
		err = protojson.Unmarshal(body, req)
	default:
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported content type %q", ct))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid OTLP payload: "+err.Error())
		return
	}

	resp, err := h.ingestion.IngestOTLP(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "stream"), req, h.workerID())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := &collogspb.ExportLogsServiceResponse{}
	var rejected int64
	var lastErr string
	for _, st := range resp.Status {
		rejected += int64(st.Failed)
		if st.Error != "" {
			lastErr = st.Error
		}
	}
	if rejected > 0 {
		out.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       lastErr,
		}
	}

	var payload []byte
	if ct == contentTypeJSON {
		payload, err = protojson.Marshal(out)
	} else {
		payload, err = proto.Marshal(out)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
