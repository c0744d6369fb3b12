package sampler

// BuildLocalMap rasterizes the keyframes (newest first) into an egocentric
// occupancy grid in the odometry frame. The grid spans three times the
// newest scan's maximum range, is centred on the oldest keyframe pose and
// starts out unknown. Every usable beam clears the cells it crosses and
// marks its end cell occupied.
//
// minRange drops beams shorter than the keypoint clearance; they would only
// paint obstacles inside the area where no keypoint can be detected.
func BuildLocalMap(frames []Keyframe, sensorOffset Pose2D, resolution, minRange float64) *OccupancyGrid {
	if len(frames) == 0 || resolution <= 0 {
		return nil
	}
	rangeMax := frames[0].Scan.RangeMax
	side := int(rangeMax * 3 / resolution)
	if side < 1 {
		return nil
	}

	center := frames[len(frames)-1].Pose
	origin := Pose2D{X: center.X - rangeMax*1.5, Y: center.Y - rangeMax*1.5}
	grid := NewOccupancyGrid(side, side, resolution, origin, CellUnknown)

	for _, kf := range frames {
		sensor := kf.Pose.Compose(sensorOffset)
		scan := kf.Scan
		for i, rng := range scan.Ranges {
			if !scan.InRange(rng) || rng < minRange {
				continue
			}
			t := scan.BeamAngle(i) + sensor.Yaw
			stepX, stepY := RotateVector(resolution, 0, t)

			x, y := sensor.X, sensor.Y
			for r := 0.0; r < rng-resolution; r += resolution {
				markInterior(grid, x, y, CellFree)
				x += stepX
				y += stepY
			}
			endX, endY := RotateVector(rng, 0, t)
			markInterior(grid, sensor.X+endX, sensor.Y+endY, CellOccupied)
		}
	}
	return grid
}

// markInterior sets the cell under (x, y) unless it falls on the grid's
// first row or column or outside the grid
func markInterior(grid *OccupancyGrid, x, y float64, value int8) {
	u, v := grid.WorldToCell(x, y)
	if 0 < u && u < grid.Width && 0 < v && v < grid.Height {
		grid.Data[v*grid.Width+u] = value
	}
}
