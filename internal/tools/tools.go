// Package tools implements the MCP tools the agent calls to list and
// sell MultiClubes tickets.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/multiclube/internal/domain"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/mcp"
	"github.com/soyeahso/multiclube/internal/sale"
)

const (
	ListTicketsName = "listar_tickets"
	SellName        = "gerar_venda"
)

// Instructions is announced to clients in initialize.
const Instructions = "Use listar_tickets para consultar ingressos e preços de uma data de visita " +
	"antes de chamar gerar_venda. gerar_venda aguarda a confirmação de pagamento e pode levar até um minuto."

// Sales is what the tools need from the sale initiator.
type Sales interface {
	Quote(ctx context.Context, visitDate string) (sale.Quote, error)
	Initiate(ctx context.Context, req sale.SaleRequest) (sale.Outcome, error)
}

// Register adds the ticket tools to s.
func Register(s *mcp.Server, sales Sales, log *logging.Logger) {
	h := &handlers{sales: sales, log: log.Sub("tools")}
	s.AddTool(listTicketsTool(), h.listTickets)
	s.AddTool(sellTool(), h.sell)
}

type handlers struct {
	sales Sales
	log   *logging.Logger
}

func listTicketsTool() mcp.Tool {
	return mcp.Tool{
		Name:        ListTicketsName,
		Description: "Lista os ingressos disponíveis e seus preços para uma data de visita.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"dataVisita": {
					Type:        "string",
					Description: "Data da visita no formato AAAA-MM-DD. Obrigatório para consultar a disponibilidade e preços.",
					Pattern:     `^\d{4}-\d{2}-\d{2}$`,
				},
			},
			Required: []string{"dataVisita"},
		},
	}
}

func sellTool() mcp.Tool {
	one := 1.0
	return mcp.Tool{
		Name: SellName,
		Description: "Gera uma venda de ingressos com link de pagamento e aguarda a confirmação do pagamento. " +
			"Os preços são consultados automaticamente para a data da visita.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"itens": {
					Type: "array",
					Description: "Lista de itens a serem comprados. Para vender 1 Adulto e 1 Infantil, adicione dois objetos: " +
						"um com o ID do ingresso Adulto e outro com o ID do ingresso Infantil.",
					Items: &mcp.Property{
						Type: "object",
						Properties: map[string]mcp.Property{
							"ticketId": {
								Type:        "string",
								Description: "ID do ticket obtido na listagem de tickets",
							},
							"quantidade": {
								Type:        "integer",
								Description: "Quantidade de ingressos deste tipo",
								Default:     1,
								Minimum:     &one,
							},
						},
						Required: []string{"ticketId"},
					},
				},
				"dataVisita": {
					Type:        "string",
					Description: "Data da visita no formato AAAA-MM-DD",
					Pattern:     `^\d{4}-\d{2}-\d{2}$`,
				},
				"compradorNome":      {Type: "string", Description: "Nome completo do comprador/responsável"},
				"compradorDocumento": {Type: "string", Description: "CPF do comprador (apenas números, sem pontuação)"},
				"compradorEmail":     {Type: "string", Description: "Email válido do comprador para envio do voucher"},
				"compradorTelefone":  {Type: "string", Description: "Telefone do comprador com DDD (apenas números)"},
			},
			Required: []string{"itens", "dataVisita", "compradorNome", "compradorDocumento", "compradorEmail", "compradorTelefone"},
		},
	}
}

type listTicketsArgs struct {
	DataVisita string `json:"dataVisita"`
}

func (h *handlers) listTickets(ctx context.Context, raw json.RawMessage) mcp.ToolResult {
	var args listTicketsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("Erro ao listar tickets: argumentos inválidos: %v", err))
	}

	q, err := h.sales.Quote(ctx, strings.TrimSpace(args.DataVisita))
	if err != nil {
		h.log.Warn().Err(err).Str("visitDate", args.DataVisita).Msg("listing tickets failed")
		return mcp.ErrorResult(fmt.Sprintf("Erro ao listar tickets: %v", err))
	}
	return jsonResult(q)
}

type sellItemArgs struct {
	TicketID   string `json:"ticketId"`
	Quantidade *int   `json:"quantidade"`
}

type sellArgs struct {
	Itens              []sellItemArgs `json:"itens"`
	DataVisita         string         `json:"dataVisita"`
	CompradorNome      string         `json:"compradorNome"`
	CompradorDocumento string         `json:"compradorDocumento"`
	CompradorEmail     string         `json:"compradorEmail"`
	CompradorTelefone  string         `json:"compradorTelefone"`
}

func (a sellArgs) request() sale.SaleRequest {
	req := sale.SaleRequest{
		VisitDate: strings.TrimSpace(a.DataVisita),
		Buyer: domain.Buyer{
			Name:     strings.TrimSpace(a.CompradorNome),
			Document: strings.TrimSpace(a.CompradorDocumento),
			Email:    strings.TrimSpace(a.CompradorEmail),
			Phone:    strings.TrimSpace(a.CompradorTelefone),
		},
	}
	for _, it := range a.Itens {
		qty := 1
		if it.Quantidade != nil {
			qty = *it.Quantidade
		}
		req.Items = append(req.Items, sale.Item{TicketID: strings.TrimSpace(it.TicketID), Quantity: qty})
	}
	return req
}

func (h *handlers) sell(ctx context.Context, raw json.RawMessage) mcp.ToolResult {
	var args sellArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("Erro ao gerar venda: argumentos inválidos: %v", err))
	}
	req := args.request()

	mcp.ReportProgress(ctx, 0, 2, "Enviando venda e aguardando confirmação de pagamento")
	out, err := h.sales.Initiate(ctx, req)
	if err != nil {
		h.log.Warn().Err(err).Str("visitDate", req.VisitDate).Msg("sale failed")
		return mcp.ErrorResult(sellErrorMessage(req.VisitDate, err))
	}
	mcp.ReportProgress(ctx, 2, 2, "Pagamento confirmado")
	return jsonResult(out)
}

func sellErrorMessage(visitDate string, err error) string {
	var unavailable *sale.UnavailableError
	if errors.As(err, &unavailable) {
		return fmt.Sprintf("Erro: O Ticket ID '%s' não está disponível para a data %s. Por favor, liste os tickets novamente.",
			unavailable.TicketID, unavailable.VisitDate)
	}
	var catalog *sale.CatalogError
	if errors.As(err, &catalog) {
		return fmt.Sprintf("Erro ao consultar valores dos ingressos para a data %s: %v", visitDate, catalog.Err)
	}
	if errors.Is(err, sale.ErrSaleTimedOut) {
		return "Erro ao gerar venda: tempo esgotado aguardando confirmação de pagamento. " +
			"A venda pode ter sido criada; verifique antes de tentar novamente."
	}
	if errors.Is(err, sale.ErrSaleUnconfirmed) {
		return "Erro ao gerar venda: a espera pela confirmação de pagamento foi interrompida. " +
			"A venda pode ter sido criada; verifique antes de tentar novamente."
	}
	return fmt.Sprintf("Erro ao gerar venda: %v", err)
}

func jsonResult(v any) mcp.ToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("Erro ao formatar resposta: %v", err))
	}
	return mcp.TextResult(string(data))
}
