package notify

import "html/template"

var orderConfirmationTmpl = template.Must(template.New("order_confirmation").Parse(`<!doctype html>
<html lang="de"><body>
<p>Hallo {{.CustomerName}},</p>
<p>vielen Dank für Ihre Bestellung bei {{.ShopName}}. Ihre Bestellnummer lautet <strong>{{.OrderNumber}}</strong>.</p>
<table>
<tr><th>Artikel</th><th>Menge</th><th>Einzelpreis</th><th>Summe</th></tr>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}} {{.Unit}}</td><td>{{.UnitPrice}} €</td><td>{{.Total}} €</td></tr>
{{end}}</table>
<p>Zwischensumme: {{.Subtotal}} €</p>
{{if .Discount}}<p>Rabatt{{if .DiscountCode}} ({{.DiscountCode}}){{end}}: -{{.Discount}} €</p>
{{end}}<p>Versand ({{.DeliveryMethod}}): {{.Shipping}} €</p>
<p>{{if .PricesIncludeTax}}enthaltene MwSt.{{else}}zzgl. MwSt.{{end}} ({{.VATRate}} %): {{.Tax}} €</p>
<p><strong>Gesamtbetrag: {{.Total}} €</strong></p>
<p>Zahlungsart: {{.PaymentMethod}}</p>
{{if .ConfirmationURL}}<p><a href="{{.ConfirmationURL}}">Bestellung ansehen</a></p>
{{end}}</body></html>`))

var statusChangeTmpl = template.Must(template.New("status_change").Parse(`<!doctype html>
<html lang="de"><body>
<p>Guten Tag,</p>
<p>{{.Message}}</p>
<p>Bestellnummer: <strong>{{.OrderNumber}}</strong></p>
<p>Ihr {{.ShopName}}</p>
</body></html>`))
