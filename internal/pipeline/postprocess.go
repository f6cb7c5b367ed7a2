package pipeline

import (
	"math"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/tumor-api/internal/model"
)

// MaskThreshold is compared against the raw segmentation logits. No sigmoid
// is applied first; deployed masks depend on this.
const MaskThreshold = 0.3

// Threshold marks every logit strictly greater than threshold with 1.
func Threshold(logits []float32, width, height int, threshold float32) *model.Mask {
	mask := &model.Mask{Width: width, Height: height, Data: make([]uint8, len(logits))}
	for i, v := range logits {
		if v > threshold {
			mask.Data[i] = 1
		}
	}
	return mask
}

// Argmax returns the index of the largest logit. Ties go to the lowest
// index; a NaN wins over any number, again the first one.
func Argmax(logits []float32) int {
	best := 0
	for i := 1; i < len(logits); i++ {
		if math.IsNaN(float64(logits[best])) {
			break
		}
		if logits[i] > logits[best] || math.IsNaN(float64(logits[i])) {
			best = i
		}
	}
	return best
}

// Label maps the class logits through the vocabulary.
func Label(logits []float32, labels []string) (string, error) {
	if len(labels) == 0 || len(logits) != len(labels) {
		return "", errors.Wrapf(model.ErrInference, "%d class logits for %d labels", len(logits), len(labels))
	}
	return labels[Argmax(logits)], nil
}

// Postprocess turns raw network outputs into a mask and a label.
func Postprocess(result *model.InferenceResult, labels []string) (*model.Mask, string, error) {
	if len(result.Segmentation) != result.Width*result.Height {
		return nil, "", errors.Wrapf(model.ErrInference, "segmentation has %d values for %dx%d",
			len(result.Segmentation), result.Width, result.Height)
	}

	label, err := Label(result.ClassLogits, labels)
	if err != nil {
		return nil, "", err
	}

	return Threshold(result.Segmentation, result.Width, result.Height, MaskThreshold), label, nil
}
