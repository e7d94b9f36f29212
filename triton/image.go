package triton

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageToOpenCV decodes raw image bytes into a 3-channel BGR matrix.
func ImageToOpenCV(bImage []byte) (*gocv.Mat, error) {
	srcMat, err := gocv.IMDecode(bImage, gocv.IMReadUnchanged)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if srcMat.Empty() {
		return nil, errors.New("decode image: empty result")
	}

	var code gocv.ColorConversionCode
	switch srcMat.Channels() {
	case 3:
		return &srcMat, nil
	case 4:
		code = gocv.ColorBGRAToBGR
	case 1:
		code = gocv.ColorGrayToBGR
	default:
		_ = srcMat.Close()
		return nil, errors.Errorf("unsupported number of channels: %d", srcMat.Channels())
	}

	dstMat := gocv.NewMat()
	gocv.CvtColor(srcMat, &dstMat, code)
	_ = srcMat.Close()
	return &dstMat, nil
}
