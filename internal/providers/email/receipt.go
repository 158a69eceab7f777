package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// ReceiptData feeds the order receipt template.
type ReceiptData struct {
	VendorName   string
	CustomerName string
	OrderRef     string
	Items        []ReceiptItem
	TotalCents   int64
	Currency     string
}

type ReceiptItem struct {
	Name       string
	Quantity   int64
	TotalCents int64
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": FormatCents,
}).Parse(`<html><body>
<h2>Thanks for your order{{if .CustomerName}}, {{.CustomerName}}{{end}}!</h2>
<p>{{.VendorName}} order {{.OrderRef}}</p>
<table>
{{range .Items}}<tr><td>{{.Quantity}}x {{.Name}}</td><td>{{money .TotalCents $.Currency}}</td></tr>
{{end}}</table>
<p><strong>Total: {{money .TotalCents .Currency}}</strong></p>
</body></html>`))

func RenderOrderReceipt(data ReceiptData) (string, error) {
	var body bytes.Buffer
	if err := receiptTemplate.Execute(&body, data); err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}
	return body.String(), nil
}

func FormatCents(cents int64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}
