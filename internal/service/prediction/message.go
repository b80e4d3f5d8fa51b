package prediction

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

// User-facing messages are in Vietnamese, the portal's language.
const (
	msgNoPrediction   = "Không thể dự đoán bệnh với các triệu chứng đã chọn. Vui lòng thử chọn thêm triệu chứng khác hoặc đặt lịch khám với bác sĩ."
	msgPredictionFail = "Có lỗi xảy ra trong quá trình dự đoán. Vui lòng thử lại sau hoặc đặt lịch khám với bác sĩ."
	msgNoDisease      = "Không thể xác định bệnh cụ thể với các triệu chứng này. Vui lòng đặt lịch khám với bác sĩ."

	messageTopN        = 3
	descriptionPreview = 100
)

const disclaimer = "\n⚠️ **Lưu ý quan trọng:**\n" +
	"• Đây chỉ là dự đoán hỗ trợ, không thay thế chẩn đoán của bác sĩ\n" +
	"• Vui lòng đặt lịch khám để được chẩn đoán chính xác\n" +
	"• Nếu triệu chứng nghiêm trọng, hãy đến bệnh viện ngay"

// Band maps a probability onto its confidence band.
func Band(p float64) model.ConfidenceBand {
	switch {
	case p > 0.6:
		return model.ConfidenceHigh
	case p > 0.3:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

var bandLines = map[model.ConfidenceBand]string{
	model.ConfidenceHigh:   "✅ **Độ tin cậy: Cao**\n",
	model.ConfidenceMedium: "⚡ **Độ tin cậy: Trung bình**\n",
	model.ConfidenceLow:    "⚠️ **Độ tin cậy: Thấp**\n",
}

// formatMessage renders the chat reply for a ranked prediction: the top
// entries with their share and a short description, the confidence band of
// the best entry and the advisory notice.
func (s *Service) formatMessage(ctx context.Context, predictions []model.DiseaseProbability, confidence float64) string {
	if len(predictions) == 0 {
		return msgNoDisease
	}

	var b strings.Builder
	b.WriteString("🔍 **Kết quả dự đoán:**\n\n")

	for i, p := range predictions {
		if i == messageTopN {
			break
		}
		fmt.Fprintf(&b, "**%d. %s** (%.1f%%)\n", i+1, p.Disease, p.Probability*100)
		if info, ok := s.Explain(ctx, p.Disease); ok {
			fmt.Fprintf(&b, "📝 %s...\n", truncateRunes(info.Description, descriptionPreview))
			fmt.Fprintf(&b, "⚠️ Mức độ: %s\n\n", info.Severity)
		}
	}

	b.WriteString(bandLines[Band(confidence)])
	b.WriteString(disclaimer)
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
