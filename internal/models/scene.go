// Package models defines the scene, result, and location types shared across packages.
package models

// SceneMetadata is the descriptive record of one physical scene.
type SceneMetadata struct {
	SceneID     string  `json:"scene_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// SceneEntry is one catalogue row: a reference image of a scene plus the scene's metadata.
// Several entries may share a SceneID.
type SceneEntry struct {
	SceneID     string  `json:"scene_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ImagePath   string  `json:"image_path"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Metadata returns the scene-level part of the entry.
func (e SceneEntry) Metadata() SceneMetadata {
	return SceneMetadata{
		SceneID:     e.SceneID,
		Title:       e.Title,
		Description: e.Description,
		Latitude:    e.Latitude,
		Longitude:   e.Longitude,
	}
}

// SearchResult is the best accepted match for a query image.
// Distance is the squared Euclidean distance between descriptors; lower is closer.
type SearchResult struct {
	Metadata SceneMetadata `json:"metadata"`
	Distance float64       `json:"distance"`
}

// LocationRecord is emitted once per newly seen location while a video is consumed.
type LocationRecord struct {
	SceneID     string  `json:"scene_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Distance    float64 `json:"distance"`
	FrameIndex  int     `json:"frame_index"`
}

// NewLocationRecord flattens a search result observed at the given frame.
func NewLocationRecord(r *SearchResult, frameIndex int) LocationRecord {
	return LocationRecord{
		SceneID:     r.Metadata.SceneID,
		Title:       r.Metadata.Title,
		Description: r.Metadata.Description,
		Latitude:    r.Metadata.Latitude,
		Longitude:   r.Metadata.Longitude,
		Distance:    r.Distance,
		FrameIndex:  frameIndex,
	}
}
