package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sitewatch/internal/models"
)

func TestAssessPPENoHardhatViolation(t *testing.T) {
	person := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 150, 250}}
	// Evidence box inside the head region (top 30%% of the person box,
	// y 100..145) with IoU 0.5 against it, above the 0.3 threshold.
	noHardhat := Detection{Label: LabelNoHardhat, Confidence: 0.8, Box: [4]float32{100, 100, 150, 122.5}}

	out := AssessPPE([]Detection{person, noHardhat}, 0, 0)
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, StatusViolation, a.Hardhat)
	assert.Equal(t, StatusViolation, a.Overall())
	require.Len(t, a.Violations, 1)
	assert.Equal(t, models.ViolationNoHardhat, a.Violations[0])
	assert.InDelta(t, 0.8, a.Confidence, 1e-6, "violation confidence comes from the evidence box")
}

func TestAssessPPECompliant(t *testing.T) {
	person := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 150, 250}}
	hardhat := Detection{Label: LabelHardhat, Confidence: 0.85, Box: [4]float32{105, 100, 145, 140}}
	vest := Detection{Label: LabelVest, Confidence: 0.8, Box: [4]float32{105, 150, 145, 220}}

	out := AssessPPE([]Detection{person, hardhat, vest}, 0, 0)
	require.Len(t, out, 1)

	a := out[0]
	assert.Equal(t, StatusCompliant, a.Hardhat)
	assert.Equal(t, StatusCompliant, a.Vest)
	assert.Empty(t, a.Violations)
	assert.Equal(t, StatusCompliant, a.Overall())
}

func TestAssessPPENoEvidenceIsUnknown(t *testing.T) {
	person := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 150, 250}}

	out := AssessPPE([]Detection{person}, 0, 0)
	require.Len(t, out, 1)
	assert.Equal(t, StatusUnknown, out[0].Overall(), "a person without PPE evidence is reported, not dropped")
}

func TestAssessPPEEvidenceOutsideHeadIgnored(t *testing.T) {
	person := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 150, 250}}
	// A no-hardhat detection far from this person's head.
	stray := Detection{Label: LabelNoHardhat, Confidence: 0.8, Box: [4]float32{400, 400, 450, 440}}

	out := AssessPPE([]Detection{person, stray}, 0, 0)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Violations)
	assert.Equal(t, StatusUnknown, out[0].Hardhat)
}

func TestAssessPPENoVestViolation(t *testing.T) {
	person := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 150, 250}}
	noVest := Detection{Label: LabelNoVest, Confidence: 0.7, Box: [4]float32{105, 150, 145, 220}}

	out := AssessPPE([]Detection{person, noVest}, 0, 0)
	require.Len(t, out, 1)
	require.Len(t, out[0].Violations, 1)
	assert.Equal(t, models.ViolationNoVest, out[0].Violations[0])
}

func TestAssessZone(t *testing.T) {
	inside := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 500, 300}}   // centroid (300,200)
	outside := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{0, 0, 20, 20}}        // centroid (10,10)
	machinery := Detection{Label: LabelMachinery, Confidence: 0.9, Box: [4]float32{60, 60, 400, 300}} // not a person

	out := AssessZone([]Detection{inside, outside, machinery}, testZone)
	require.Len(t, out, 2, "only persons are assessed for zone breach")

	assert.Equal(t, StatusViolation, out[0].Zone)
	assert.Equal(t, StatusViolation, out[0].Overall())
	require.Len(t, out[0].Violations, 1)
	assert.Equal(t, models.ViolationZoneBreach, out[0].Violations[0])

	assert.Equal(t, StatusCompliant, out[1].Zone)
	assert.Equal(t, StatusCompliant, out[1].Overall(), "outside the zone is compliant, not unknown")
	assert.Empty(t, out[1].Violations)
}

func TestAssessDispatch(t *testing.T) {
	person := Detection{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 500, 300}}

	zone := Assess([]Detection{person}, models.ModeZone, testZone, 0, 0)
	require.Len(t, zone, 1)
	assert.Equal(t, StatusViolation, zone[0].Zone)

	ppe := Assess([]Detection{person}, models.ModePPE, nil, 0, 0)
	require.Len(t, ppe, 1)
	assert.Equal(t, StatusUnknown, ppe[0].Zone, "zone status stays unset outside zone mode")
}

func TestFilterByConfidence(t *testing.T) {
	dets := []Detection{
		{Label: LabelPerson, Confidence: 0.9},
		{Label: LabelPerson, Confidence: 0.2},
		{Label: LabelVest, Confidence: 0.5},
	}
	out := FilterByConfidence(dets, 0.5)
	require.Len(t, out, 2)
	for _, d := range out {
		assert.GreaterOrEqual(t, d.Confidence, float32(0.5))
	}
}
