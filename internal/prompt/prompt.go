// Package prompt turns a game snapshot and assembled context into the system
// prompt for one decision cycle.
//
// A classifier maps the snapshot to one of six situations; each situation has
// its own template tuned to what matters in that moment. Classification is a
// strict priority chain, so a burning-health fight renders the emergency
// template even when NPCs are standing around.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/game"
)

// Situation classifies what kind of moment the agent is in.
type Situation string

// Situations in classification priority order: the first matching rule wins.
const (
	SituationEmergency   Situation = "emergency"
	SituationCombat      Situation = "combat"
	SituationSocial      Situation = "social"
	SituationQuest       Situation = "quest"
	SituationExploration Situation = "exploration"
	SituationGeneric     Situation = "generic"
)

// emergencyHealthFraction is the health fraction below which any situation
// becomes an emergency.
const emergencyHealthFraction = 0.3

// Classify maps a snapshot to a situation. Priority: emergency > combat >
// social > quest > exploration > generic.
func Classify(gs *game.State) Situation {
	switch {
	case gs.HealthFraction() < emergencyHealthFraction:
		return SituationEmergency
	case len(gs.HostileEntities()) > 0:
		return SituationCombat
	case len(gs.NearbyNPCs()) > 0:
		return SituationSocial
	case gs.ActiveQuest() != nil:
		return SituationQuest
	case len(gs.Entities) > 0 || gs.Location != "":
		return SituationExploration
	default:
		return SituationGeneric
	}
}

// Data is the value rendered into every template. String fields left empty
// render as nothing; templates guard optional sections with conditionals.
type Data struct {
	AgentName      string
	Traits         string
	Style          string
	PrimaryGoal    string
	HealthPercent  int
	Location       string
	HostileNames   string
	NPCNames       string
	QuestName      string
	QuestObjective string
	Context        string
}

// BuildData flattens config and snapshot into template data.
func BuildData(cfg agent.Config, gs *game.State, contextBlock string) Data {
	d := Data{
		AgentName:     cfg.Personality.Name,
		Traits:        strings.Join(cfg.Personality.Traits, ", "),
		Style:         string(cfg.Personality.Style),
		PrimaryGoal:   cfg.Personality.PrimaryGoal(),
		HealthPercent: int(gs.HealthFraction() * 100),
		Location:      gs.Location,
		Context:       contextBlock,
	}
	var hostiles []string
	for _, e := range gs.HostileEntities() {
		hostiles = append(hostiles, e.Name)
	}
	d.HostileNames = strings.Join(hostiles, ", ")
	var npcs []string
	for _, e := range gs.NearbyNPCs() {
		npcs = append(npcs, e.Name)
	}
	d.NPCNames = strings.Join(npcs, ", ")
	if q := gs.ActiveQuest(); q != nil {
		d.QuestName = q.Name
		d.QuestObjective = q.Objective
	}
	return d
}

const sharedFooter = `
{{if .Context}}{{.Context}}

{{end}}Decide your next action. Call exactly the tools you need; explain your reasoning briefly before acting.`

var templateTexts = map[Situation]string{
	SituationEmergency: `You are {{.AgentName}}, an autonomous game-playing agent, and you are in serious danger.
Your health is at {{.HealthPercent}}%. Survival overrides every other concern{{if .PrimaryGoal}}, including your goal "{{.PrimaryGoal}}"{{end}}.
{{if .HostileNames}}Threats: {{.HostileNames}}.
{{end}}Retreat, heal, or neutralise the immediate threat. Do not start anything new.
` + sharedFooter,

	SituationCombat: `You are {{.AgentName}}, an autonomous game-playing agent in combat.
{{if .HostileNames}}You face: {{.HostileNames}}.
{{end}}Health: {{.HealthPercent}}%.{{if .Style}} Fight according to your {{.Style}} style.{{end}}
Pick targets deliberately and watch your health; disengage if the fight turns.
` + sharedFooter,

	SituationSocial: `You are {{.AgentName}}, an autonomous game-playing agent in a social encounter.
{{if .NPCNames}}Present: {{.NPCNames}}.
{{end}}{{if .Traits}}Stay in character: {{.Traits}}.
{{end}}Conversation, trade, and quest leads are all on the table. Standing matters; do not burn bridges casually.
` + sharedFooter,

	SituationQuest: `You are {{.AgentName}}, an autonomous game-playing agent working a quest.
{{if .QuestName}}Quest: {{.QuestName}}.{{if .QuestObjective}} Current step: {{.QuestObjective}}.{{end}}
{{end}}{{if .PrimaryGoal}}Overall goal: {{.PrimaryGoal}}.
{{end}}Make concrete progress on the objective before chasing distractions.
` + sharedFooter,

	SituationExploration: `You are {{.AgentName}}, an autonomous game-playing agent exploring{{if .Location}} {{.Location}}{{end}}.
{{if .PrimaryGoal}}Goal: {{.PrimaryGoal}}.
{{end}}Inspect what looks interesting, note what you learn, and keep moving with purpose.
` + sharedFooter,

	SituationGeneric: `You are {{.AgentName}}, an autonomous game-playing agent.
{{if .PrimaryGoal}}Goal: {{.PrimaryGoal}}.
{{end}}Take stock of your surroundings and choose a useful next step.
` + sharedFooter,
}

// Engine renders situation-specific system prompts.
type Engine struct {
	templates map[Situation]*template.Template
}

// NewEngine parses all situation templates.
func NewEngine() (*Engine, error) {
	e := &Engine{templates: make(map[Situation]*template.Template, len(templateTexts))}
	for sit, text := range templateTexts {
		tmpl, err := template.New(string(sit)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("prompt: parse %s template: %w", sit, err)
		}
		e.templates[sit] = tmpl
	}
	return e, nil
}

// Render produces the system prompt for the given situation.
func (e *Engine) Render(sit Situation, d Data) (string, error) {
	tmpl, ok := e.templates[sit]
	if !ok {
		tmpl = e.templates[SituationGeneric]
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, d); err != nil {
		return "", fmt.Errorf("prompt: render %s template: %w", sit, err)
	}
	return sb.String(), nil
}

// Build classifies the snapshot and renders the matching template in one
// step. It returns the prompt and the situation it chose.
func (e *Engine) Build(cfg agent.Config, gs *game.State, contextBlock string) (string, Situation, error) {
	sit := Classify(gs)
	out, err := e.Render(sit, BuildData(cfg, gs, contextBlock))
	if err != nil {
		return "", sit, err
	}
	return out, sit, nil
}
