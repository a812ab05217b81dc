package geo

import "rider-map/internal/ridermap/domain"

// ClusterMarkers groups markers that lie within radiusPx of a cluster's
// seed marker at zoom. It is a greedy single pass in input order and keeps
// no state between calls, so every render regroups from scratch. Single
// markers come back as clusters of one carrying the marker's own icon.
func ClusterMarkers(markers []domain.Marker, zoom int, radiusPx float64) []domain.Cluster {
	if len(markers) == 0 {
		return []domain.Cluster{}
	}

	z := float64(zoom)
	pixels := make([]Point, len(markers))
	for i, m := range markers {
		pixels[i] = Project(m.Position, z)
	}

	merged := make([]bool, len(markers))
	clusters := make([]domain.Cluster, 0, len(markers))

	for i := range markers {
		if merged[i] {
			continue
		}
		merged[i] = true
		members := []int{i}

		for j := i + 1; j < len(markers); j++ {
			if merged[j] {
				continue
			}
			if pixels[i].DistanceTo(pixels[j]) <= radiusPx {
				merged[j] = true
				members = append(members, j)
			}
		}

		clusters = append(clusters, newCluster(markers, members))
	}
	return clusters
}

func newCluster(markers []domain.Marker, members []int) domain.Cluster {
	var sumLat, sumLng float64
	ids := make([]domain.RiderID, 0, len(members))
	for _, idx := range members {
		sumLat += markers[idx].Position.Lat
		sumLng += markers[idx].Position.Lng
		ids = append(ids, markers[idx].RiderID)
	}
	n := float64(len(members))

	icon := domain.IconCluster
	if len(members) == 1 {
		icon = markers[members[0]].Icon
	}
	return domain.Cluster{
		Center:   domain.LatLng{Lat: sumLat / n, Lng: sumLng / n},
		Count:    len(members),
		Icon:     icon,
		RiderIDs: ids,
	}
}
