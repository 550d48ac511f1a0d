package provider

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"
)

var envelopeFuncs = template.FuncMap{
	"x": func(s string) (string, error) {
		var b strings.Builder
		if err := xml.EscapeText(&b, []byte(s)); err != nil {
			return "", err
		}
		return b.String(), nil
	},
	"money": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
}

var getTicketsTmpl = template.Must(template.New("GetTickets").Funcs(envelopeFuncs).Parse(
	`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:v2="http://multiclubes.com.br/tickets/v2">
  <soapenv:Header>
    <_AuthenticationKey xmlns="ns">{{x .AuthKey}}</_AuthenticationKey>
  </soapenv:Header>
  <soapenv:Body>
    <v2:GetTickets>
      <v2:data>
        <v2:VisitDate>{{x .VisitDate}}</v2:VisitDate>
      </v2:data>
    </v2:GetTickets>
  </soapenv:Body>
</soapenv:Envelope>`))

var sellTmpl = template.Must(template.New("Sell").Funcs(envelopeFuncs).Parse(
	`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:v2="http://multiclubes.com.br/tickets/v2">
  <soapenv:Header>
    <_AuthenticationKey xmlns="ns">{{x .AuthKey}}</_AuthenticationKey>
  </soapenv:Header>
  <soapenv:Body>
    <v2:Sell>
      <v2:data>
        <v2:PaymentLink>
          <v2:DueDays>{{.Order.DueDays}}</v2:DueDays>
          <v2:WebhookUrl>{{x .Order.WebhookURL}}</v2:WebhookUrl>
        </v2:PaymentLink>
        <v2:Tickets>{{range .Order.Items}}
          <v2:SaleItemData>
            <v2:Quantity>{{.Quantity}}</v2:Quantity>
            <v2:TicketId>{{x .TicketID}}</v2:TicketId>
            <v2:Values>
              <v2:DueValue>{{money .DueValue}}</v2:DueValue>
            </v2:Values>
          </v2:SaleItemData>{{end}}
        </v2:Tickets>
        <v2:Values>
          <v2:DueValue>{{money .Order.Total}}</v2:DueValue>
        </v2:Values>
        <v2:VisitDate>{{x .Order.VisitDate}}</v2:VisitDate>
        <v2:Visitor>
          <v2:Document>{{x .Order.Visitor.Document}}</v2:Document>
          <v2:Email>{{x .Order.Visitor.Email}}</v2:Email>
          <v2:Name>{{x .Order.Visitor.Name}}</v2:Name>
          <v2:PhoneNumber>{{x .Order.Visitor.Phone}}</v2:PhoneNumber>
        </v2:Visitor>
      </v2:data>
    </v2:Sell>
  </soapenv:Body>
</soapenv:Envelope>`))

func renderGetTickets(authKey, visitDate string) ([]byte, error) {
	var buf bytes.Buffer
	err := getTicketsTmpl.Execute(&buf, struct{ AuthKey, VisitDate string }{authKey, visitDate})
	return buf.Bytes(), err
}

func renderSell(authKey string, order SellOrder) ([]byte, error) {
	var buf bytes.Buffer
	err := sellTmpl.Execute(&buf, struct {
		AuthKey string
		Order   SellOrder
	}{authKey, order})
	return buf.Bytes(), err
}

// Response shapes. Tags carry local names only so any namespace prefix
// the service picks will match.

type responseEnvelope struct {
	Body responseBody `xml:"Body"`
}

type responseBody struct {
	Fault      *soapFault          `xml:"Fault"`
	GetTickets *getTicketsResponse `xml:"GetTicketsResponse"`
	Sell       *sellResponse       `xml:"SellResponse"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type getTicketsResponse struct {
	Plans []planTicketResult `xml:"GetTicketsResult>PlanTicketResult"`
}

type planTicketResult struct {
	Description string         `xml:"Description"`
	Tickets     []ticketResult `xml:"Tickets>TicketResult"`
}

type ticketResult struct {
	TicketID    string `xml:"TicketId"`
	Description string `xml:"Description"`
	Value       string `xml:"Value"`
}

type sellResponse struct {
	SaleID string `xml:"SellResult>SaleId"`
}

func decodeEnvelope(data []byte) (responseBody, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return responseBody{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if f := env.Body.Fault; f != nil {
		return env.Body, &FaultError{Code: strings.TrimSpace(f.Code), Message: strings.TrimSpace(f.String)}
	}
	return env.Body, nil
}

func flattenTickets(r *getTicketsResponse) ([]Ticket, error) {
	var tickets []Ticket
	for _, plan := range r.Plans {
		for _, t := range plan.Tickets {
			price, err := parseDecimal(t.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: ticket %s value %q", ErrMalformedResponse, t.TicketID, t.Value)
			}
			tickets = append(tickets, Ticket{
				ID:    strings.TrimSpace(t.TicketID),
				Name:  strings.TrimSpace(t.Description),
				Price: price,
				Plan:  strings.TrimSpace(plan.Description),
			})
		}
	}
	return tickets, nil
}

// parseDecimal accepts both "167.00" and "167,00".
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

// bodyMap converts the SOAP Body element to nested maps keyed by local
// element name. Leaf elements become their trimmed text; repeated
// siblings become a []any.
func bodyMap(data []byte) (map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no SOAP body", ErrMalformedResponse)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "Body" {
			v, err := elementValue(dec)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			if m, ok := v.(map[string]any); ok {
				return m, nil
			}
			return map[string]any{}, nil
		}
	}
}

func elementValue(dec *xml.Decoder) (any, error) {
	var text strings.Builder
	var children map[string]any
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := elementValue(dec)
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = make(map[string]any)
			}
			name := t.Name.Local
			switch prev := children[name].(type) {
			case nil:
				children[name] = v
			case []any:
				children[name] = append(prev, v)
			default:
				children[name] = []any{prev, v}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if children != nil {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}
