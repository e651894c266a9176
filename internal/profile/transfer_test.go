package profile

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tuple struct {
	ProductID            string
	CategoryID           string
	RiskLevel            RiskLevel
	Requirements         string
	RiskFactors          string
	MitigationStrategies string
	EnforcementLevel     EnforcementLevel
	AutoEnforcement      bool
	GracePeriodHours     float64
}

func tuples(t *testing.T, ps []*RiskProfile) []tuple {
	t.Helper()
	out := make([]tuple, len(ps))
	for i, p := range ps {
		req, err := json.Marshal(p.MandatoryRequirements)
		require.NoError(t, err)
		out[i] = tuple{
			ProductID:            p.ProductID,
			CategoryID:           p.CategoryID,
			RiskLevel:            p.RiskLevel,
			Requirements:         string(req),
			RiskFactors:          strings.Join(p.RiskFactors, "|"),
			MitigationStrategies: strings.Join(p.MitigationStrategies, "|"),
			EnforcementLevel:     p.EnforcementLevel,
			AutoEnforcement:      p.AutoEnforcement,
			GracePeriodHours:     p.GracePeriodHours,
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID+out[i].CategoryID < out[j].ProductID+out[j].CategoryID
	})
	return out
}

func seed(t *testing.T, svc *Service) []*RiskProfile {
	t.Helper()
	bodies := []string{
		`{"productId":"` + productA + `","categoryId":"` + categoryA + `","riskLevel":"high",
		  "mandatoryRequirements":{"insurance":true,"inspection":true,"minCoverage":2500.75,"inspectionTypes":["electrical","safety"],"complianceDeadlineHours":48},
		  "riskFactors":["theft","water damage"],"mitigationStrategies":["deposit"],"enforcementLevel":"strict","autoEnforcement":true,"gracePeriodHours":6}`,
		`{"productId":"` + productB + `","categoryId":"` + categoryB + `","riskLevel":"low","riskFactors":[],"mitigationStrategies":[]}`,
	}
	var out []*RiskProfile
	for _, b := range bodies {
		p, err := svc.CreateRaw(adminCtx(), json.RawMessage(b))
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestJSONRoundTrip(t *testing.T) {
	src, _ := newTestService()
	original := seed(t, src)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, original))

	dst, _ := newTestService()
	res, err := dst.ImportJSON(adminCtx(), &buf)
	require.NoError(t, err)
	require.Equal(t, 0, res.Failed, res.Errors)

	imported, err := dst.All(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, tuples(t, original), tuples(t, imported))
}

func TestCSVRoundTrip(t *testing.T) {
	src, _ := newTestService()
	original := seed(t, src)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, original))
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, strings.Join(CSVColumns, ","), header)

	dst, _ := newTestService()
	res, err := dst.ImportCSV(adminCtx(), &buf)
	require.NoError(t, err)
	require.Equal(t, 0, res.Failed, res.Errors)

	imported, err := dst.All(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, tuples(t, original), tuples(t, imported))
}

func TestImportCSV_RowErrorsAreIsolated(t *testing.T) {
	svc, _ := newTestService()
	body := "ProductId,categoryId,riskLevel,minCoverage,extra\n" +
		productA + "," + categoryA + ",low,100,x\n" +
		"bogus," + categoryA + ",low,100,x\n" +
		productB + "," + categoryA + ",medium,-5,x\n"

	res, err := svc.ImportCSV(adminCtx(), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, 2, res.Errors[1].Index)
	assert.Equal(t, "mandatoryRequirements.minCoverage", res.Errors[1].Fields[0].Field)

	var echoed map[string]string
	require.NoError(t, json.Unmarshal(res.Errors[0].Data, &echoed))
	assert.Equal(t, "bogus", echoed["productId"])
}

func TestParseCSV_EnvelopeErrors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ParseCSV(strings.NewReader("productId,riskLevel\n"))
	assert.ErrorContains(t, err, "categoryid")
}

func TestDecodeEnvelope(t *testing.T) {
	items, err := DecodeEnvelope(strings.NewReader(`{"profiles":[{"a":1}, 7, null]}`))
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = DecodeEnvelope(strings.NewReader(`{"profiles":{}}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope(strings.NewReader(`{}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope(strings.NewReader(`[`))
	assert.Error(t, err)
}
