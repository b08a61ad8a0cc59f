package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
)

// ONNXDetector implements Detector with a RetinaFace detection model and
// an ArcFace embedding model. InitRuntime must be called once per
// process before constructing one.
type ONNXDetector struct {
	net      *retinaNet
	embedder *arcFace
	cutoffs  TierCutoffs
}

// InitRuntime loads the ONNX Runtime shared library for this platform.
func InitRuntime() error {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// DestroyRuntime releases the process-wide ONNX environment.
func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

// NewONNXDetector loads both models from cfg.ModelsDir.
func NewONNXDetector(cfg config.DetectionConfig) (*ONNXDetector, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	net, err := newRetinaNet(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	embedder, err := newArcFace(embPath)
	if err != nil {
		net.close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXDetector{
		net:      net,
		embedder: embedder,
		cutoffs:  TierCutoffs{High: cfg.HighCutoff, Medium: cfg.MediumCutoff},
	}, nil
}

// Detect finds faces in the image and extracts an embedding for each.
// A face whose crop or embedding fails is skipped, not fatal.
func (d *ONNXDetector) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	img, err := jpeg.Decode(bytes.NewReader(imageData))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, fmt.Errorf("empty image")
	}

	start := time.Now()
	detInput := preprocessForDetection(img, d.net.inputW, d.net.inputH)
	raw, err := d.net.detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.DetectionDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]Face, 0, len(raw))
	for _, det := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		crop := cropFace(img, det.bbox)
		if crop == nil {
			continue
		}

		start = time.Now()
		embInput := preprocessForEmbedding(crop, d.embedder.inputW, d.embedder.inputH)
		embedding, err := d.embedder.extract(embInput)
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}
		observability.DetectionDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		faces = append(faces, Face{
			Box:        fractionalBox(det.bbox, origW, origH),
			Tier:       d.cutoffs.Tier(det.confidence),
			Confidence: det.confidence,
			Embedding:  embedding,
			Crop:       encodeJPEG(crop, 85),
		})
	}

	return faces, nil
}

// Close releases both ONNX sessions.
func (d *ONNXDetector) Close() {
	if d.net != nil {
		d.net.close()
	}
	if d.embedder != nil {
		d.embedder.close()
	}
}

// fractionalBox converts a pixel bbox to fractions of the image dimensions.
func fractionalBox(bbox [4]float32, origW, origH int) models.BoundingBox {
	w := float64(origW)
	h := float64(origH)
	return models.BoundingBox{
		X: float64(bbox[0]) / w,
		Y: float64(bbox[1]) / h,
		W: float64(bbox[2]-bbox[0]) / w,
		H: float64(bbox[3]-bbox[1]) / h,
	}
}

// onnxLibPath returns the ONNX Runtime shared library path for the OS.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
