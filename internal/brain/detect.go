package brain

import "strings"

// DetectState guesses the teaching mode a free-text message is asking for.
// Pure keyword heuristics; anything unrecognized falls back to explain.
func DetectState(text string) State {
	t := strings.ToLower(text)

	switch {
	case containsAny(t, "passo a passo", "passo", "como faço", "step by step"):
		return StateStepByStep
	case containsAny(t, "exercício", "exercicio", "treinar", "treino", "praticar"):
		return StateDrill
	case containsAny(t, "revisa", "revisão", "revisao", "confere", "resumo do que vimos"):
		return StateReview
	case containsAny(t, "onde errei", "erro comum", "meu erro", "por que errei"):
		return StateErrorReview
	case containsAny(t, "prova", "simulado", "exame"):
		return StateExam
	case containsAny(t, "na prática", "na pratica", "aplicação", "aplicacao", "exemplo real"):
		return StateApplication
	}
	return StateExplain
}

func containsAny(t string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}
