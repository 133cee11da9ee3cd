package detector

import "sort"

// rawBox is a candidate detection in model-input coordinates.
type rawBox struct {
	x1, y1, x2, y2 float32
	score          float32
	class          int
}

// decodeBoxes interprets the model output laid out as [1, 4+C, N]: four
// center-format box rows followed by C per-class score rows, N anchors each.
func decodeBoxes(output []float32, numClasses int, confThreshold float32) []rawBox {
	rows := 4 + numClasses
	if numClasses <= 0 || len(output) < rows {
		return nil
	}
	anchors := len(output) / rows

	boxes := make([]rawBox, 0, 16)
	for i := 0; i < anchors; i++ {
		best := 0
		bestScore := output[4*anchors+i]
		for c := 1; c < numClasses; c++ {
			if s := output[(4+c)*anchors+i]; s > bestScore {
				bestScore = s
				best = c
			}
		}
		if bestScore < confThreshold {
			continue
		}

		cx := output[0*anchors+i]
		cy := output[1*anchors+i]
		w := output[2*anchors+i]
		h := output[3*anchors+i]

		boxes = append(boxes, rawBox{
			x1:    cx - w/2,
			y1:    cy - h/2,
			x2:    cx + w/2,
			y2:    cy + h/2,
			score: bestScore,
			class: best,
		})
	}
	return boxes
}

// nonMaxSuppression keeps the highest-scoring box of each overlapping
// same-class cluster.
func nonMaxSuppression(boxes []rawBox, iouThreshold float32) []rawBox {
	sort.Slice(boxes, func(i, j int) bool {
		return boxes[i].score > boxes[j].score
	})

	kept := make([]rawBox, 0, len(boxes))
	suppressed := make([]bool, len(boxes))
	for i := range boxes {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] || boxes[j].class != boxes[i].class {
				continue
			}
			if iou(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou computes intersection over union of two boxes.
func iou(a, b rawBox) float32 {
	ix1 := maxf(a.x1, b.x1)
	iy1 := maxf(a.y1, b.y1)
	ix2 := minf(a.x2, b.x2)
	iy2 := minf(a.y2, b.y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	areaA := (a.x2 - a.x1) * (a.y2 - a.y1)
	areaB := (b.x2 - b.x1) * (b.y2 - b.y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
