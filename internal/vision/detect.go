package vision

import (
	"fmt"
	"image"
	"os"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/sitewatch/internal/observability"
)

// Label is the closed class enum of the construction-safety detection model.
type Label int

const (
	LabelHardhat Label = iota
	LabelMask
	LabelNoHardhat
	LabelNoMask
	LabelNoVest
	LabelPerson
	LabelSafetyCone
	LabelVest
	LabelMachinery
	LabelUtilityPole
	LabelVehicle

	numClasses = 11
)

var labelNames = [numClasses]string{
	"Hardhat", "Mask", "NO-Hardhat", "NO-Mask", "NO-Safety Vest",
	"Person", "Safety Cone", "Safety Vest", "Machinery", "Utility Pole", "Vehicle",
}

func (l Label) String() string {
	if l < 0 || int(l) >= numClasses {
		return fmt.Sprintf("class_%d", int(l))
	}
	return labelNames[l]
}

// Detection is one detected object in pixel space of the frame it was
// computed on.
type Detection struct {
	Label      Label
	Confidence float32
	Box        [4]float32 // x1, y1, x2, y2
}

// Detector is the opaque inference collaborator. Errors are fatal for the
// tick, never for the worker: callers skip the tick and keep the previous
// cached result.
type Detector interface {
	Detect(img image.Image, confThreshold float32) ([]Detection, error)
}

// FilterByConfidence drops detections below the threshold. The ONNX detector
// already thresholds during decode; this guards results from collaborators
// that do not.
func FilterByConfidence(dets []Detection, threshold float32) []Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

const nmsIoUThreshold = 0.45

// ONNXDetector runs the YOLO11 construction-safety model with ONNX Runtime.
// One instance is shared by all camera workers; Detect serializes session
// runs because the session owns fixed input/output tensors.
type ONNXDetector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
	anchors      int
}

// NewONNXDetector loads the model. A missing weights file is a configuration
// error and fails startup immediately rather than running degraded.
func NewONNXDetector(modelPath string, inputSize int, opts *ort.SessionOptions) (*ONNXDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("detection weights not found at %s: %w", modelPath, err)
	}

	// YOLO anchor grid: strides 8, 16 and 32.
	s := inputSize
	anchors := (s/8)*(s/8) + (s/16)*(s/16) + (s/32)*(s/32)

	inputShape := ort.NewShape(1, 3, int64(s), int64(s))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(4+numClasses), int64(anchors))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &ONNXDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    inputSize,
		anchors:      anchors,
	}, nil
}

// Detect runs one inference on the image and returns detections above the
// threshold in the image's own pixel space, strongest first.
func (d *ONNXDetector) Detect(img image.Image, confThreshold float32) ([]Detection, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	data, ratio, padX, padY := letterbox(img, d.inputSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	copy(d.inputTensor.GetData(), data)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}
	observability.InferenceDuration.Observe(time.Since(start).Seconds())

	out := d.outputTensor.GetData()
	candidates := decodeYOLO(out, d.anchors, confThreshold, ratio, padX, padY, origW, origH)

	return nonMaxSuppress(candidates, nmsIoUThreshold), nil
}

func (d *ONNXDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
		d.inputTensor = nil
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
		d.outputTensor = nil
	}
}

// decodeYOLO converts the raw [4+numClasses][anchors] output into boxes in
// original-image coordinates, undoing the letterbox transform.
func decodeYOLO(out []float32, anchors int, confThreshold, ratio float32, padX, padY, origW, origH int) []Detection {
	var dets []Detection

	for a := 0; a < anchors; a++ {
		bestClass := -1
		bestScore := confThreshold
		for c := 0; c < numClasses; c++ {
			score := out[(4+c)*anchors+a]
			if score >= bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 {
			continue
		}

		cx := out[0*anchors+a]
		cy := out[1*anchors+a]
		w := out[2*anchors+a]
		h := out[3*anchors+a]

		x1 := (cx - w/2 - float32(padX)) / ratio
		y1 := (cy - h/2 - float32(padY)) / ratio
		x2 := (cx + w/2 - float32(padX)) / ratio
		y2 := (cy + h/2 - float32(padY)) / ratio

		x1 = clamp(x1, 0, float32(origW))
		y1 = clamp(y1, 0, float32(origH))
		x2 = clamp(x2, 0, float32(origW))
		y2 = clamp(y2, 0, float32(origH))
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		dets = append(dets, Detection{
			Label:      Label(bestClass),
			Confidence: bestScore,
			Box:        [4]float32{x1, y1, x2, y2},
		})
	}
	return dets
}

// nonMaxSuppress keeps the strongest box among class-wise overlapping ones.
func nonMaxSuppress(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	suppressed := make([]bool, len(dets))

	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].Label != dets[i].Label {
				continue
			}
			if IoU(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
