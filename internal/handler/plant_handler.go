package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ayurleaf/internal/metrics"
	"github.com/hitoshi/ayurleaf/internal/middleware"
	"github.com/hitoshi/ayurleaf/internal/model"
	"github.com/hitoshi/ayurleaf/internal/plant"
)

// multipartOverhead はmultipartの境界やヘッダーのために画像上限へ上乗せするバイト数。
const multipartOverhead = 1 << 20

// PlantIdentifier は植物ハンドラーが必要とする識別サービスのインターフェース。
type PlantIdentifier interface {
	Identify(ctx context.Context, sessionKey string, r io.Reader) (*model.Identification, error)
	MaxBytes() int64
}

var _ PlantIdentifier = (*plant.Identifier)(nil)

// PlantHandler は薬用植物カタログと画像識別のHTTPハンドラー。
type PlantHandler struct {
	identifier PlantIdentifier
	metrics    metrics.MetricsCollector
}

// NewPlantHandler はPlantHandlerを生成する。
func NewPlantHandler(identifier PlantIdentifier, collector metrics.MetricsCollector) *PlantHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &PlantHandler{identifier: identifier, metrics: collector}
}

// ListPlants は薬用植物カタログを返す。
// GET /api/plants
func (h *PlantHandler) ListPlants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, plant.Catalog())
}

// Identify はアップロードされた画像を識別する。
// POST /api/identify （multipart/form-data, フィールド名 image）
func (h *PlantHandler) Identify(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	maxBytes := h.identifier.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	file, _, err := r.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewUploadTooLargeError(maxBytes))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewImageRequiredError())
		return
	}
	defer file.Close()

	// 識別回数はセッション単位で数えるため、未ログインのセッションも保持する
	sess.Retain()
	result, err := h.identifier.Identify(r.Context(), sess.Token, file)
	if err != nil {
		switch {
		case errors.Is(err, plant.ErrUploadTooLarge):
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewUploadTooLargeError(maxBytes))
		case errors.Is(err, plant.ErrNotAnImage):
			middleware.WriteErrorResponse(w, http.StatusUnsupportedMediaType, model.NewNotAnImageError())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewAnalysisCanceledError())
		default:
			slog.Error("plant identification failed", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
		}
		return
	}

	h.metrics.RecordIdentify(result.Name)
	writeJSON(w, http.StatusOK, result)
}

// CompareModels はMobileNetV2とEfficientNetV2の比較結果を返す。
// POST /api/models/compare
func (h *PlantHandler) CompareModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, plant.CompareModels())
}
