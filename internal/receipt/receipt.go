// Package receipt renders orders as fixed-width text for thermal printers.
package receipt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"cafepos/m/domain"
)

const DefaultWidth = 32

type Data struct {
	ShopName     string
	Order        domain.Order
	Lines        []domain.OrderLine
	TableName    string
	CustomerName string
	PrintedAt    time.Time
	Width        int
}

// Render writes the receipt for d to w.
func Render(w io.Writer, d Data) error {
	width := d.Width
	if width < 20 {
		width = DefaultWidth
	}
	p := &printer{w: bufio.NewWriter(w), width: width}

	p.center(strings.ToUpper(d.ShopName))
	p.rule('=')
	p.pair(fmt.Sprintf("HĐ #%d", d.Order.ID), d.TableName)
	if !d.PrintedAt.IsZero() {
		p.line("Ngày: " + d.PrintedAt.Format("02/01/2006 15:04"))
	}
	if d.CustomerName != "" {
		p.line("KH: " + d.CustomerName)
	}
	p.rule('-')

	for _, l := range d.Lines {
		p.line(l.Name)
		p.pair(fmt.Sprintf("  %d x %s", l.Quantity, FormatVND(l.UnitPrice)), FormatVND(l.Amount()))
		if l.Note != "" {
			p.line("  * " + l.Note)
		}
	}
	p.rule('-')

	subtotal := domain.Subtotal(d.Lines)
	p.pair("Tạm tính", FormatVND(subtotal))
	if d.Order.PointsUsed > 0 {
		p.pair(fmt.Sprintf("Điểm (%d)", d.Order.PointsUsed), "-"+FormatVND(d.Order.PointsUsed*domain.PointValue))
	}
	p.pair("TỔNG CỘNG", FormatVND(d.Order.Total))
	p.rule('=')

	switch d.Order.Status {
	case domain.OrderCancelled:
		reason := ""
		if d.Order.CancelReason != nil {
			reason = ": " + *d.Order.CancelReason
		}
		p.line("ĐÃ HỦY" + reason)
	case domain.OrderProcessing:
		p.center("TẠM TÍNH - CHƯA THANH TOÁN")
	default:
		p.center("Cảm ơn quý khách!")
	}
	return p.flush()
}

func String(d Data) string {
	var sb strings.Builder
	_ = Render(&sb, d)
	return sb.String()
}

// FormatVND groups thousands with dots: 115000 -> "115.000".
func FormatVND(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var sb strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(r)
	}
	return sign + sb.String()
}

type printer struct {
	w     *bufio.Writer
	width int
	err   error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = p.w.WriteString(truncate(s, p.width) + "\n")
}

func (p *printer) rule(ch rune) {
	p.line(strings.Repeat(string(ch), p.width))
}

func (p *printer) center(s string) {
	s = truncate(s, p.width)
	pad := (p.width - utf8.RuneCountInString(s)) / 2
	p.line(strings.Repeat(" ", pad) + s)
}

// pair puts left and right on one row, right-aligned. The left side is cut
// when both do not fit.
func (p *printer) pair(left, right string) {
	room := p.width - utf8.RuneCountInString(right) - 1
	if room < 1 {
		p.line(right)
		return
	}
	left = truncate(left, room)
	gap := p.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	p.line(left + strings.Repeat(" ", gap) + right)
}

func (p *printer) flush() error {
	if p.err != nil {
		return p.err
	}
	return p.w.Flush()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
