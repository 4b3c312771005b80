// Package catalog reads the reference scene catalogue: a metadata table plus one
// directory of images per scene.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/internal/models"
)

// Loader reads scene metadata and datasets.
type Loader struct {
	logger *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used for skipped rows and unreadable coordinates.
func WithLogger(l *zap.Logger) Option {
	return func(c *Loader) { c.logger = l }
}

// NewLoader creates a catalogue loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the metadata table and then the dataset under scenesDir. A missing
// metadata file is logged and every scene gets empty metadata.
func (l *Loader) Load(scenesDir, metadataPath string) ([]models.SceneEntry, error) {
	meta, err := l.LoadMetadata(metadataPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		l.logger.Warn("scene metadata not found, using empty metadata", zap.String("path", metadataPath))
		meta = map[string]models.SceneMetadata{}
	}
	return l.LoadDataset(scenesDir, meta)
}

// LoadMetadata reads a .csv or .xlsx table with the header
// scene_id,title,description,lat,lon. Rows without a scene id are skipped; when either
// coordinate fails to parse both become 0.
func (l *Loader) LoadMetadata(path string) (map[string]models.SceneMetadata, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported metadata format: %s", path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]models.SceneMetadata{}, nil
	}

	cols := headerIndex(rows[0])
	if _, ok := cols["scene_id"]; !ok {
		return nil, fmt.Errorf("metadata %s: missing scene_id column", path)
	}
	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	meta := make(map[string]models.SceneMetadata, len(rows)-1)
	for n, row := range rows[1:] {
		id := cell(row, "scene_id")
		if id == "" {
			continue
		}
		lat, latErr := parseCoord(cell(row, "lat"))
		lon, lonErr := parseCoord(cell(row, "lon"))
		if latErr != nil || lonErr != nil {
			l.logger.Warn("invalid coordinates, using 0,0",
				zap.String("scene_id", id), zap.Int("row", n+2), zap.Error(errors.Join(latErr, lonErr)))
			lat, lon = 0, 0
		}
		meta[id] = models.SceneMetadata{
			SceneID:     id,
			Title:       cell(row, "title"),
			Description: cell(row, "description"),
			Latitude:    lat,
			Longitude:   lon,
		}
	}
	return meta, nil
}

var headerAliases = map[string]string{
	"latitude":  "lat",
	"longitude": "lon",
	"lng":       "lon",
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

// parseCoord treats an empty cell as 0.
func parseCoord(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata %s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// LoadDataset lists every image in each scene subdirectory of dir, sorted by scene id and
// then file name. Scenes absent from meta get empty strings and 0,0.
func (l *Loader) LoadDataset(dir string, meta map[string]models.SceneMetadata) ([]models.SceneEntry, error) {
	scenes, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenes directory: %w", err)
	}
	var entries []models.SceneEntry
	for _, s := range scenes {
		if !s.IsDir() {
			continue
		}
		sceneID := s.Name()
		scenePath := filepath.Join(dir, sceneID)
		files, err := os.ReadDir(scenePath)
		if err != nil {
			l.logger.Warn("skipping unreadable scene directory", zap.String("path", scenePath), zap.Error(err))
			continue
		}
		m, ok := meta[sceneID]
		if !ok {
			l.logger.Debug("scene has no metadata", zap.String("scene_id", sceneID))
		}
		for _, f := range files {
			if f.IsDir() || !imageio.IsImageFile(f.Name()) {
				continue
			}
			entries = append(entries, models.SceneEntry{
				SceneID:     sceneID,
				Title:       m.Title,
				Description: m.Description,
				ImagePath:   filepath.Join(scenePath, f.Name()),
				Latitude:    m.Latitude,
				Longitude:   m.Longitude,
			})
		}
	}
	return entries, nil
}
