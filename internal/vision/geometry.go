package vision

import "github.com/your-org/sitewatch/internal/models"

// HeadRegion returns the top fraction of a person bounding box, the area
// tested for hardhat evidence.
func HeadRegion(box [4]float32, frac float32) [4]float32 {
	return [4]float32{box[0], box[1], box[2], box[1] + (box[3]-box[1])*frac}
}

// IoU computes intersection-over-union of two boxes.
func IoU(a, b [4]float32) float32 {
	interW := min32(a[2], b[2]) - max32(a[0], b[0])
	interH := min32(a[3], b[3]) - max32(a[1], b[1])
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// OverlapRatio computes the intersection area over the area of b, i.e. how
// much of the evidence box lies inside a.
func OverlapRatio(a, b [4]float32) float32 {
	interW := min32(a[2], b[2]) - max32(a[0], b[0])
	interH := min32(a[3], b[3]) - max32(a[1], b[1])
	if interW <= 0 || interH <= 0 {
		return 0
	}
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	if areaB <= 0 {
		return 0
	}
	return interW * interH / areaB
}

// Centroid returns the center point of a box.
func Centroid(box [4]float32) (float32, float32) {
	return (box[0] + box[2]) / 2, (box[1] + box[3]) / 2
}

// PointInPolygon tests containment with an even-odd ray cast. Points on a
// horizontal edge count as inside for the edge's lower vertex side, which
// is stable enough for zone tests on pixel coordinates.
func PointInPolygon(x, y float32, polygon []models.Point) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := float32(polygon[i].X), float32(polygon[i].Y)
		xj, yj := float32(polygon[j].X), float32(polygon[j].Y)

		if (yi > y) != (yj > y) {
			xCross := xi + (y-yi)/(yj-yi)*(xj-xi)
			if x < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
