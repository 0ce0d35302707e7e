package agents

import (
	"context"

	"github.com/atenlabs/atenbot/internal/providers"
)

const generatorInstruction = `ATUAÇÃO: Você é um assistente virtual objetivo e direto.
OBJETIVO: Fornecer a informação correta em POUCAS PALAVRAS.

REGRAS DE CONCISÃO (CRÍTICO):
1. Responda em APENAS UMA ou DUAS frases. Nada mais.
2. Se processar uma lista, dê apenas o item mais importante.
3. SEMPRE assuma que o usuário está com pressa.
4. Proibido usar "Espero ter ajudado" ou saudações longas.`

// Generator produces the draft reply from the inbound message and the
// conversation history.
type Generator struct {
	gen TextGenerator
}

func NewGenerator(gen TextGenerator) *Generator {
	return &Generator{gen: gen}
}

func (g *Generator) Name() string { return "generator" }

func (g *Generator) Instruction(_ Input) string { return generatorInstruction }

// Run drafts a reply. A configured persona takes precedence over the
// built-in instruction.
func (g *Generator) Run(ctx context.Context, in Input, rc RunContext) (string, error) {
	instruction := rc.SystemInstruction
	if instruction == "" {
		instruction = g.Instruction(in)
	}
	return g.gen.Generate(ctx, providers.GenerateRequest{
		Prompt:            in.Message,
		History:           rc.History,
		SystemInstruction: instruction,
	})
}
