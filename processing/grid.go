package processing

// CellCenters returns the pixel centres of a width x height grid stretched over an
// image of imageSize (width, height). Cell (row, col) is centred at
// ((0.5+col)*stepX, (0.5+row)*stepY).
func CellCenters(width, height int, imageSize [2]int) ([]float64, []float64) {
	stepX := float64(imageSize[0]) / float64(width)
	stepY := float64(imageSize[1]) / float64(height)

	centersX := make([]float64, width)
	for col := range width {
		centersX[col] = (0.5 + float64(col)) * stepX
	}
	centersY := make([]float64, height)
	for row := range height {
		centersY[row] = (0.5 + float64(row)) * stepY
	}
	return centersX, centersY
}
