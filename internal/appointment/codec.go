package appointment

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hackgods/appointment-ledger/internal/calendar"
)

// Store line formats:
//
//	id,patientID,providerID,date,time,status[,serviceType,notes,med1;med2,qty1;qty2,prescriptionStatus]
//	providerID,date,time,UNAVAILABLE
//
// Fields are quoted only when they contain a comma, quote or newline.

const (
	baseFieldCount      = 6
	completedFieldCount = 11
	holdFieldCount      = 4
	holdMarker          = "UNAVAILABLE"
	listSeparator       = ";"
)

func recordFields(r Record) []string {
	fields := []string{
		r.ID,
		strconv.Itoa(r.PatientID),
		r.ProviderID,
		r.Date.String(),
		r.Time.String(),
		r.Status.String(),
	}
	if r.Status != StatusCompleted {
		return fields
	}

	var o Outcome
	if r.Outcome != nil {
		o = *r.Outcome
	}
	names := make([]string, 0, len(o.Medicines))
	qtys := make([]string, 0, len(o.Medicines))
	for _, m := range o.Medicines {
		names = append(names, m.Name)
		qtys = append(qtys, strconv.Itoa(m.Quantity))
	}
	return append(fields,
		o.ServiceType,
		o.Notes,
		strings.Join(names, listSeparator),
		strings.Join(qtys, listSeparator),
		o.PrescriptionStatus,
	)
}

func parseRecordFields(fields []string) (Record, error) {
	if len(fields) != baseFieldCount && len(fields) != completedFieldCount {
		return Record{}, fmt.Errorf("expected %d or %d fields, got %d", baseFieldCount, completedFieldCount, len(fields))
	}

	id := strings.TrimSpace(fields[0])
	if id == "" {
		return Record{}, errors.New("empty appointment id")
	}
	patientID, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid patient id %q", fields[1])
	}
	date, err := calendar.ParseDate(strings.TrimSpace(fields[3]))
	if err != nil {
		return Record{}, err
	}
	at, err := calendar.ParseClock(strings.TrimSpace(fields[4]))
	if err != nil {
		return Record{}, err
	}
	status, err := ParseStatus(fields[5])
	if err != nil {
		return Record{}, err
	}

	r := Record{
		ID:         id,
		PatientID:  patientID,
		ProviderID: strings.TrimSpace(fields[2]),
		Date:       date,
		Time:       at,
		Status:     status,
	}

	if len(fields) == baseFieldCount {
		return r, nil
	}
	if status != StatusCompleted {
		return Record{}, fmt.Errorf("outcome fields present on a %s appointment", status)
	}

	medicines, err := parseMedicines(fields[8], fields[9])
	if err != nil {
		return Record{}, err
	}
	o := Outcome{
		ServiceType:        fields[6],
		Notes:              fields[7],
		Medicines:          medicines,
		PrescriptionStatus: fields[10],
	}
	if o.ServiceType != "" || o.Notes != "" || o.Medicines != nil || o.PrescriptionStatus != "" {
		r.Outcome = &o
	}
	return r, nil
}

func parseMedicines(names, quantities string) ([]Medicine, error) {
	if names == "" && quantities == "" {
		return nil, nil
	}
	nameList := strings.Split(names, listSeparator)
	qtyList := strings.Split(quantities, listSeparator)
	if len(nameList) != len(qtyList) {
		return nil, fmt.Errorf("%d medicines but %d quantities", len(nameList), len(qtyList))
	}
	medicines := make([]Medicine, 0, len(nameList))
	for i, name := range nameList {
		qty, err := strconv.Atoi(strings.TrimSpace(qtyList[i]))
		if err != nil {
			return nil, fmt.Errorf("invalid quantity %q for %s", qtyList[i], name)
		}
		medicines = append(medicines, Medicine{Name: name, Quantity: qty})
	}
	return medicines, nil
}

func holdFields(k SlotKey) []string {
	return []string{k.ProviderID, k.Date.String(), k.Time.String(), holdMarker}
}

func parseHoldFields(fields []string) (SlotKey, error) {
	if len(fields) != holdFieldCount {
		return SlotKey{}, fmt.Errorf("expected %d fields, got %d", holdFieldCount, len(fields))
	}
	if !strings.EqualFold(strings.TrimSpace(fields[3]), holdMarker) {
		return SlotKey{}, fmt.Errorf("unknown slot marker %q", fields[3])
	}
	date, err := calendar.ParseDate(strings.TrimSpace(fields[1]))
	if err != nil {
		return SlotKey{}, err
	}
	at, err := calendar.ParseClock(strings.TrimSpace(fields[2]))
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{ProviderID: strings.TrimSpace(fields[0]), Date: date, Time: at}, nil
}

// EncodeRecordLine renders r as a single store line without the trailing newline.
func EncodeRecordLine(r Record) string {
	return encodeLine(recordFields(r))
}

// DecodeRecordLine parses one store line.
func DecodeRecordLine(line string) (Record, error) {
	fields, err := decodeLine(line)
	if err != nil {
		return Record{}, err
	}
	return parseRecordFields(fields)
}

func encodeLine(fields []string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(fields)
	w.Flush()
	return strings.TrimSuffix(buf.String(), "\n")
}

func decodeLine(line string) ([]string, error) {
	r := newLineReader(strings.NewReader(line))
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func newLineReader(src io.Reader) *csv.Reader {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	return r
}

// readLines decodes every line of src with parse, reporting the offending line number.
func readLines[T any](src io.Reader, parse func([]string) (T, error)) ([]T, error) {
	r := newLineReader(src)
	var out []T
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		v, err := parse(fields)
		if err != nil {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
}

// writeLines encodes every item of items with format, one line each.
func writeLines[T any](dst io.Writer, items []T, format func(T) []string) error {
	w := csv.NewWriter(dst)
	for _, item := range items {
		if err := w.Write(format(item)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
