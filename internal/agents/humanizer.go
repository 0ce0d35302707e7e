package agents

import (
	"context"

	"github.com/atenlabs/atenbot/internal/providers"
)

const humanizerInstruction = `ATUAÇÃO: Especialista em Humanização de Texto para WhatsApp.
TAREFA: Reescreva o texto do usuário para parecer um SMS rápido.

REGRAS DE OURO (ESTILO SMS/WHATSAPP):
1. LIMITE ABSOLUTO: 30 PALAVRAS.
2. Imagine que você está mandando um SMS rápido.
3. Corte TUDO que não for a informação principal.
4. Sem "Entendi", "Olá", "Veja bem". Comece respondendo.
5. Use abreviações comuns se necessário (vc, tbm) para parecer humano.

SAÍDA: Apenas a mensagem reescrita (CURTA).`

// Humanizer rewrites the verified draft into short conversational
// WhatsApp tone, stripping robotic hedging.
type Humanizer struct {
	gen TextGenerator
}

func NewHumanizer(gen TextGenerator) *Humanizer {
	return &Humanizer{gen: gen}
}

func (h *Humanizer) Name() string { return "humanizer" }

func (h *Humanizer) Instruction(_ Input) string { return humanizerInstruction }

func (h *Humanizer) Run(ctx context.Context, in Input, _ RunContext) (string, error) {
	return h.gen.Generate(ctx, providers.GenerateRequest{
		Prompt:            in.Draft,
		SystemInstruction: h.Instruction(in),
	})
}
