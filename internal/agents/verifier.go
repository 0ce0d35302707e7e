package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/atenlabs/atenbot/internal/providers"
)

const verifierInstruction = `ATUAÇÃO: Supervisor de Qualidade.
TAREFA: Verifique se o rascunho da resposta atende à mensagem do usuário de forma coerente.
INSTRUÇÕES:
1. Se a resposta for coerente e útil, responda apenas: "APROVADO".
2. Se houver alucinação ou erro grave, reescreva a resposta corrigida.
SAÍDA APENAS O RESULTADO FINAL (APROVADO ou A RESPOSTA CORRIGIDA).`

// approvalVerdict is the exact token the model emits to wave a draft
// through unchanged.
const approvalVerdict = "APROVADO"

// Verifier checks the draft against the original message, returning the
// draft untouched on approval or the model's corrected replacement.
type Verifier struct {
	gen TextGenerator
}

func NewVerifier(gen TextGenerator) *Verifier {
	return &Verifier{gen: gen}
}

func (v *Verifier) Name() string { return "verifier" }

func (v *Verifier) Instruction(_ Input) string { return verifierInstruction }

func (v *Verifier) Run(ctx context.Context, in Input, _ RunContext) (string, error) {
	content := fmt.Sprintf("MENSAGEM ORIGINAL: %q\nRASCUNHO DA RESPOSTA: %q", in.Message, in.Draft)

	verdict, err := v.gen.Generate(ctx, providers.GenerateRequest{
		Prompt:            content,
		SystemInstruction: v.Instruction(in),
	})
	if err != nil {
		return "", err
	}

	if strings.Contains(strings.ToUpper(strings.TrimSpace(verdict)), approvalVerdict) {
		return in.Draft, nil
	}
	return verdict, nil
}
