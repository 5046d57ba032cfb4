package mesh

import (
	"time"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// BuildTriangle materializes the persistent record for a mesh cell. Used
// when seeding root faces and when a subdivision inserts its four children.
func BuildTriangle(id string, now time.Time) (*models.Triangle, error) {
	face, level, path, err := Decode(id)
	if err != nil {
		return nil, err
	}
	ring, err := Polygon(id)
	if err != nil {
		return nil, err
	}
	lat, lon, err := Centroid(id)
	if err != nil {
		return nil, err
	}
	t := &models.Triangle{
		ID:                id,
		Face:              face,
		Level:             level,
		Path:              PathString(path),
		Children:          []string{},
		State:             models.TriangleActive,
		Clicks:            0,
		MoratoriumStartAt: now,
		CentroidLat:       lat,
		CentroidLon:       lon,
		Polygon:           ring,
	}
	if level > 1 {
		parent, err := Parent(id)
		if err != nil {
			return nil, err
		}
		t.ParentID = &parent
	}
	return t, nil
}

// BuildChildren materializes the four child records of a parent triangle.
func BuildChildren(parentID string, now time.Time) ([]*models.Triangle, error) {
	ids, err := Children(parentID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Triangle, 0, 4)
	for _, id := range ids {
		child, err := BuildTriangle(id, now)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}
