package flow

import (
	"fmt"
	"strings"

	"github.com/calma-app/calma/internal/models"
)

// Fallback topics for practical-advice mode. The emotional context is
// scanned for the marker groups in order; the first hit wins.
var fallbackTopics = []struct {
	Topic   string
	Markers []string
}{
	{"recuperar tu energía", []string{"energía: bajo", "energía: muy bajo"}},
	{"mejorar tu descanso", []string{"sueño: mal", "sueño: muy mal"}},
	{"manejar los cambios de ánimo", []string{"ánimo: cambiante"}},
}

// fallbackDefaultTopic applies when no marker matches.
const fallbackDefaultTopic = "tu bienestar general"

// breathingScript is the fixed guided-exercise fallback.
const breathingScript = "Hagamos juntos un ejercicio de respiración.\n\n" +
	"1. Inhala lentamente por la nariz contando hasta 4.\n" +
	"2. Sostén el aire contando hasta 4.\n" +
	"3. Exhala por la boca contando hasta 6.\n\n" +
	"Repite este ciclo cuatro veces. Cuando termines, cuéntame cómo te sientes."

// freeTalkInvitation is the fixed free-talk (and mode-unset) fallback.
const freeTalkInvitation = "Estoy aquí para escucharte. Cuéntame más sobre cómo te sientes o qué tienes en mente."

// RenderFallback produces deterministic, non-empty guidance text for a mode
// when the conversational API yields no usable reply. For practical advice
// the topic is chosen by scanning the emotional context for low energy, poor
// sleep, then variable mood, defaulting to general wellbeing.
func RenderFallback(mode models.EngagementMode, emotionalContext string) string {
	switch mode {
	case models.ModePracticalAdvice:
		topic := fallbackDefaultTopic
		folded := strings.ToLower(emotionalContext)
		for _, candidate := range fallbackTopics {
			if containsAny(folded, candidate.Markers) {
				topic = candidate.Topic
				break
			}
		}
		return fmt.Sprintf("Algunas ideas para %s:\n\n"+
			"1. Dedica hoy diez minutos a una pausa sin pantallas.\n"+
			"2. Anota una cosa concreta que puedas cambiar esta semana.\n"+
			"3. Comparte cómo te sientes con alguien de confianza.\n\n"+
			"¿Quieres que profundicemos en alguna de estas ideas?", topic)
	case models.ModeGuidedExercise:
		return breathingScript
	default:
		return freeTalkInvitation
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
