package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
)

// ExportSource is the fixed source label written into export metadata.
const ExportSource = "ALKIS Berlin Building Database"

// ErrNothingToExport is returned when the candidate list is empty.
var ErrNothingToExport = errors.New("no buildings to export")

// Export is a file ready for download.
type Export struct {
	Filename   string
	Buildings  []Building
	Collection *geojson.FeatureCollection
}

// Exporter builds download files from the current building list.
type Exporter struct {
	now func() time.Time
}

// NewExporter creates an exporter stamping files with the current time.
func NewExporter() *Exporter {
	return &Exporter{now: time.Now}
}

// ExportAll exports every loaded building.
func (e *Exporter) ExportAll(buildings []Building) (*Export, error) {
	return e.export("all", buildings)
}

// ExportSelected exports the buildings whose id is in selected, in list order.
func (e *Exporter) ExportSelected(buildings []Building, selected map[string]bool) (*Export, error) {
	var picked []Building
	for _, b := range buildings {
		if selected[b.ID] {
			picked = append(picked, b)
		}
	}
	return e.export("selected", picked)
}

func (e *Exporter) export(kind string, buildings []Building) (*Export, error) {
	if len(buildings) == 0 {
		return nil, ErrNothingToExport
	}
	return &Export{
		Filename:   fmt.Sprintf("alkis-buildings-%s-%d.geojson", kind, len(buildings)),
		Buildings:  buildings,
		Collection: e.collection(buildings),
	}, nil
}

// collection converts buildings to features. Buildings without geometry are
// skipped, so totalBuildings may be lower than the candidate count.
func (e *Exporter) collection(buildings []Building) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, b := range buildings {
		if !b.HasGeometry() {
			continue
		}
		f := geojson.NewFeature(b.Geometry)
		f.ID = b.ID
		f.Properties["id"] = b.ID
		f.Properties["name"] = b.Name
		f.Properties["area"] = b.Area
		f.Properties["floors"] = b.Floors
		f.Properties["district"] = b.District
		f.Properties["centroid"] = b.Centroid
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"metadata": map[string]any{
			"exportDate":     e.now().UTC().Format(time.RFC3339),
			"totalBuildings": len(fc.Features),
			"source":         ExportSource,
		},
	}
	return fc
}

// CSVFilename is the name of the CSV variant of an export.
func (x *Export) CSVFilename() string {
	return x.Filename[:len(x.Filename)-len(".geojson")] + ".csv"
}

// WriteCSV writes the exported buildings as CSV, including those without geometry.
func (x *Export) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name", "area", "floors", "district", "centroid_lat", "centroid_lon"}); err != nil {
		return err
	}
	for _, b := range x.Buildings {
		lat, lon := "", ""
		if b.Centroid != nil {
			lat = strconv.FormatFloat(b.Centroid.Lat, 'f', -1, 64)
			lon = strconv.FormatFloat(b.Centroid.Lon, 'f', -1, 64)
		}
		row := []string{
			b.ID,
			b.Name,
			strconv.FormatFloat(b.Area, 'f', -1, 64),
			strconv.Itoa(b.Floors),
			b.District,
			lat,
			lon,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
