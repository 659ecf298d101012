package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structuredFixture = `
<html><body>
<div class="equipment-item">
  <h3>1/2 - Regular, Plus, Premium - Gilbarco</h3>
  <p>S/N: GB88213X</p>
  <p>Model: Encore 700S</p>
  <p>NUMBER OF NOZZLES: 6</p>
  <p>METER TYPE: Positive Displacement</p>
  <p>STAND ALONE CODE: 042</p>
</div>
<div class="equipment-item">
  <h3>3 - Diesel - Wayne</h3>
  <p>S/N: WN55120</p>
  <p>GRADE: Diesel, Off-Road Diesel</p>
</div>
<div class="equipment-item">
  <h3>Air Compressor Unit</h3>
  <p>S/N: AC100</p>
</div>
</body></html>`

func TestParseDispenserDocument_Structured(t *testing.T) {
	dispensers, strategy := parseDispenserDocument(docFrom(t, structuredFixture), "wo-1")

	assert.Equal(t, strategyStructured, strategy)
	require.Len(t, dispensers, 2, "non-dispenser equipment is ignored")

	first := dispensers[0]
	assert.Equal(t, "wo-1", first.WorkOrderID)
	assert.Equal(t, "1/2", first.Number)
	assert.Equal(t, []string{"1", "2"}, first.Numbers)
	assert.Equal(t, "Gilbarco", first.Make)
	assert.Equal(t, "Encore 700S", first.Model)
	assert.Equal(t, "GB88213X", first.SerialNumber)
	assert.Equal(t, "6", first.Nozzles)
	assert.Equal(t, "Positive Displacement", first.MeterType)
	assert.Equal(t, "042", first.StandAloneCode)
	assert.Equal(t, []string{"Regular", "Plus", "Premium"}, first.FuelGrades)

	second := dispensers[1]
	assert.Equal(t, "3", second.Number)
	assert.Equal(t, []string{"3"}, second.Numbers)
	assert.Equal(t, "Wayne", second.Make)
	assert.Equal(t, "WN55120", second.SerialNumber)
	// The labeled GRADE line refines the title's single grade
	assert.Equal(t, []string{"Diesel", "Off-Road Diesel"}, second.FuelGrades)
}

const tableFixture = `
<html><body>
<table>
<tr><th>Unit</th><th>Details</th></tr>
<tr><td>5/6 - Regular, Diesel - Dresser</td><td>S/N: DR3301</td></tr>
<tr><td>Canopy Light</td><td>S/N: CL1</td></tr>
</table>
</body></html>`

func TestParseDispenserDocument_TableFallback(t *testing.T) {
	dispensers, strategy := parseDispenserDocument(docFrom(t, tableFixture), "wo-2")

	assert.Equal(t, strategyTable, strategy)
	require.Len(t, dispensers, 1)
	assert.Equal(t, "5/6", dispensers[0].Number)
	assert.Equal(t, "Dresser", dispensers[0].Make)
	assert.Equal(t, "DR3301", dispensers[0].SerialNumber)
	assert.Equal(t, []string{"Regular", "Diesel"}, dispensers[0].FuelGrades)
}

const textFixture = `
<html><body><div>
Equipment at this location:
1 - Ethanol-Free Regular - Tokheim
S/N: TK9017
METER TYPE: Coriolis
2 - Regular, Plus - Bennett
S/N: BN4410
</div></body></html>`

func TestParseDispenserDocument_TextBlockFallback(t *testing.T) {
	dispensers, strategy := parseDispenserDocument(docFrom(t, textFixture), "wo-3")

	assert.Equal(t, strategyTextBlocks, strategy)
	require.Len(t, dispensers, 2)

	assert.Equal(t, "Tokheim", dispensers[0].Make)
	assert.Equal(t, "TK9017", dispensers[0].SerialNumber)
	assert.Equal(t, "Coriolis", dispensers[0].MeterType)
	assert.Equal(t, []string{"Ethanol-Free Regular"}, dispensers[0].FuelGrades)

	assert.Equal(t, "Bennett", dispensers[1].Make)
	assert.Equal(t, "BN4410", dispensers[1].SerialNumber)
}

func TestParseDispenserDocument_Empty(t *testing.T) {
	dispensers, strategy := parseDispenserDocument(docFrom(t, `<html><body><p>No equipment on file</p></body></html>`), "wo-4")
	assert.Empty(t, dispensers)
	assert.Empty(t, strategy)
}

func TestDispenserFromTitle(t *testing.T) {
	tests := []struct {
		title string
		ok    bool
	}{
		{"1/2 - Regular, Plus, Premium - Gilbarco", true},
		{"3 - Diesel - Wayne", true},
		{"4 - Ethanol-Free Regular - Tokheim", true},
		{"Air Compressor Unit", false},
		{"7 - Regular - Acme", false},
		{"- Regular - Gilbarco", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			d := dispenserFromTitle(tt.title, "wo")
			if tt.ok {
				require.NotNil(t, d)
			} else {
				assert.Nil(t, d)
			}
		})
	}
}

func TestGradesNormalizedToCanonicalOrder(t *testing.T) {
	d := dispenserFromTitle("1 - Premium, Regular, Plus - Gilbarco", "wo")
	require.NotNil(t, d)
	assert.Equal(t, []string{"Regular", "Plus", "Premium"}, d.FuelGrades)
}
