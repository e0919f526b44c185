package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/DrSkyle/vmplace/pkg/resource"
	"github.com/DrSkyle/vmplace/pkg/storage"
)

// CSVComma matches the separator of the workload tables.
const CSVComma = ';'

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []SolutionRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteCSV writes one row per active server. Resource columns follow the
// schema order; the workloads column lists ids, with ":<fraction>" for
// partial shares.
func WriteCSV(w io.Writer, schema resource.Schema, records []SolutionRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = CSVComma

	header := []string{"algorithm", "server"}
	for _, name := range schema.Names() {
		header = append(header, name+"_usage", name+"_capacity")
	}
	header = append(header, "workloads")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		for _, s := range r.Assignment {
			row := []string{r.Algorithm, strconv.Itoa(s.Server)}
			for _, name := range schema.Names() {
				row = append(row, formatFloat(s.Usage[name]), formatFloat(s.Capacity[name]))
			}
			ids := make([]string, 0, len(s.Workloads))
			for _, p := range s.Workloads {
				if p.Fraction < 1 {
					ids = append(ids, p.ID+":"+formatFloat(p.Fraction))
					continue
				}
				ids = append(ids, p.ID)
			}
			row = append(row, strings.Join(ids, " "))
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Publish writes solutions.json and solutions.csv under prefix and returns
// the keys written.
func Publish(ctx context.Context, store storage.BlobStore, prefix string, schema resource.Schema, records []SolutionRecord) ([]string, error) {
	var jsonBuf, csvBuf bytes.Buffer
	if err := WriteJSON(&jsonBuf, records); err != nil {
		return nil, fmt.Errorf("encoding json report: %w", err)
	}
	if err := WriteCSV(&csvBuf, schema, records); err != nil {
		return nil, fmt.Errorf("encoding csv report: %w", err)
	}

	files := map[string][]byte{
		path.Join(prefix, "solutions.json"): jsonBuf.Bytes(),
		path.Join(prefix, "solutions.csv"):  csvBuf.Bytes(),
	}
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := store.Put(ctx, k, files[k]); err != nil {
			return nil, fmt.Errorf("publishing %s: %w", k, err)
		}
	}
	return keys, nil
}
