package profile

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/bulk"
	"github.com/rentwise/riskd/internal/validation"
)

// CSVColumns is the column order of the CSV import/export format. Array
// fields are semicolon-joined.
var CSVColumns = []string{
	"productId", "categoryId", "riskLevel", "insurance", "inspection",
	"minCoverage", "inspectionTypes", "complianceDeadlineHours", "riskFactors",
	"mitigationStrategies", "enforcementLevel", "autoEnforcement", "gracePeriodHours",
}

// ExportRecord is one profile in the JSON import/export format.
type ExportRecord struct {
	ProductID             string           `json:"productId"`
	CategoryID            string           `json:"categoryId"`
	RiskLevel             RiskLevel        `json:"riskLevel"`
	MandatoryRequirements Requirements     `json:"mandatoryRequirements"`
	RiskFactors           []string         `json:"riskFactors"`
	MitigationStrategies  []string         `json:"mitigationStrategies"`
	EnforcementLevel      EnforcementLevel `json:"enforcementLevel"`
	AutoEnforcement       bool             `json:"autoEnforcement"`
	GracePeriodHours      float64          `json:"gracePeriodHours"`
	IsActive              bool             `json:"isActive"`
}

// ExportDocument is the JSON envelope shared by export and import.
type ExportDocument struct {
	Profiles []ExportRecord `json:"profiles"`
}

func toRecord(p *RiskProfile) ExportRecord {
	r := p.MandatoryRequirements
	r.InspectionTypes = nonNil(r.InspectionTypes)
	return ExportRecord{
		ProductID:             p.ProductID,
		CategoryID:            p.CategoryID,
		RiskLevel:             p.RiskLevel,
		MandatoryRequirements: r,
		RiskFactors:           nonNil(p.RiskFactors),
		MitigationStrategies:  nonNil(p.MitigationStrategies),
		EnforcementLevel:      p.EnforcementLevel,
		AutoEnforcement:       p.AutoEnforcement,
		GracePeriodHours:      p.GracePeriodHours,
		IsActive:              p.IsActive,
	}
}

// WriteJSON writes profiles as an ExportDocument.
func WriteJSON(w io.Writer, profiles []*RiskProfile) error {
	doc := ExportDocument{Profiles: make([]ExportRecord, len(profiles))}
	for i, p := range profiles {
		doc.Profiles[i] = toRecord(p)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteCSV writes profiles in CSVColumns order with a header row.
func WriteCSV(w io.Writer, profiles []*RiskProfile) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, p := range profiles {
		r := p.MandatoryRequirements
		row := []string{
			p.ProductID,
			p.CategoryID,
			string(p.RiskLevel),
			strconv.FormatBool(r.Insurance),
			strconv.FormatBool(r.Inspection),
			formatNumber(r.MinCoverage),
			strings.Join(r.InspectionTypes, ";"),
			formatNumber(r.ComplianceDeadlineHours),
			strings.Join(p.RiskFactors, ";"),
			strings.Join(p.MitigationStrategies, ";"),
			string(p.EnforcementLevel),
			strconv.FormatBool(p.AutoEnforcement),
			formatNumber(p.GracePeriodHours),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// DecodeEnvelope splits a {"profiles": [...]} document into raw items.
func DecodeEnvelope(r io.Reader) ([]json.RawMessage, error) {
	return bulk.DecodeEnvelope(r, "profiles")
}

// ParseCSV reads a CSV document with a header row. Columns are matched by
// name, case-insensitively; unknown columns are ignored. Each data row
// becomes one bulk item.
func ParseCSV(r io.Reader) ([]CSVRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apierr.New(apierr.ErrBadRequest, "CSV body is empty")
	}
	if err != nil {
		return nil, apierr.Newf(apierr.ErrBadRequest, "invalid CSV header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"productid", "categoryid", "risklevel"} {
		if _, ok := index[required]; !ok {
			return nil, apierr.Newf(apierr.ErrBadRequest, "CSV header is missing column %q", required)
		}
	}

	var rows []CSVRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apierr.Newf(apierr.ErrBadRequest, "invalid CSV at line %d: %v", line, err)
		}
		row := CSVRow{Line: line, Values: make(map[string]string, len(CSVColumns))}
		for _, col := range CSVColumns {
			if i, ok := index[strings.ToLower(col)]; ok && i < len(rec) {
				row.Values[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CSVRow is one data row keyed by CSVColumns name.
type CSVRow struct {
	Line   int
	Values map[string]string
}

// Request converts the row into a submission using the same coercions as
// JSON input.
func (row CSVRow) Request() CreateRequest {
	v := row.Values
	list := func(col string) validation.StringList {
		if strings.TrimSpace(v[col]) == "" {
			return validation.StringList{}
		}
		return validation.StringList{Values: validation.SplitList(v[col]), Set: true}
	}
	return CreateRequest{
		ProductID:  v["productId"],
		CategoryID: v["categoryId"],
		RiskLevel:  v["riskLevel"],
		MandatoryRequirements: &RequirementsInput{
			Insurance:               validation.ParseBool(v["insurance"]),
			Inspection:              validation.ParseBool(v["inspection"]),
			MinCoverage:             validation.ParseNumber(v["minCoverage"]),
			InspectionTypes:         list("inspectionTypes"),
			ComplianceDeadlineHours: validation.ParseNumber(v["complianceDeadlineHours"]),
		},
		RiskFactors:          list("riskFactors"),
		MitigationStrategies: list("mitigationStrategies"),
		EnforcementLevel:     v["enforcementLevel"],
		AutoEnforcement:      validation.ParseBool(v["autoEnforcement"]),
		GracePeriodHours:     validation.ParseNumber(v["gracePeriodHours"]),
	}
}

// ImportCSV runs every CSV row through the bulk pipeline.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*BulkResult, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}
	batch := make([]bulkItem, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row.Values)
		if err != nil {
			return nil, fmt.Errorf("encode CSV row %d: %w", row.Line, err)
		}
		batch[i] = bulkItem{data: data, parse: func() (*RiskProfile, validation.ValidationErrors) {
			return Normalize(row.Request(), s.options())
		}}
	}
	return s.runBulk(ctx, batch)
}

// ImportJSON runs a {"profiles": [...]} document through the bulk pipeline.
func (s *Service) ImportJSON(ctx context.Context, r io.Reader) (*BulkResult, error) {
	items, err := DecodeEnvelope(r)
	if err != nil {
		return nil, err
	}
	return s.BulkCreate(ctx, items)
}
