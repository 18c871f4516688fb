// Package game defines the game-world state model consumed by the agent
// runtime.
//
// A [State] is a point-in-time snapshot supplied by the game collaborator.
// Each session owns its snapshot exclusively; use [State.Clone] whenever a
// snapshot crosses an ownership boundary so that no two sessions ever alias
// the same slices or maps.
package game

// EntityKind classifies a visible entity.
type EntityKind string

const (
	EntityMonster  EntityKind = "monster"
	EntityNPC      EntityKind = "npc"
	EntityPlayer   EntityKind = "player"
	EntityItem     EntityKind = "item"
	EntityLocation EntityKind = "location"
)

// Position is a location in world coordinates.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Entity is a single object visible to the agent: a monster, another
// character, an item on the ground, or a point of interest.
type Entity struct {
	// ID is the collaborator-assigned identifier, stable across snapshots.
	ID string `json:"id" yaml:"id"`

	// Kind classifies the entity.
	Kind EntityKind `json:"kind" yaml:"kind"`

	// Name is the display name (e.g., "Gravemaw Skeleton").
	Name string `json:"name" yaml:"name"`

	// Position is where the entity currently is.
	Position Position `json:"position" yaml:"position"`

	// Hostile indicates the entity will attack the agent on sight.
	Hostile bool `json:"hostile" yaml:"hostile"`

	// Health is the entity's current health, when known. Zero for
	// non-combatant entities.
	Health float64 `json:"health,omitempty" yaml:"health,omitempty"`

	// Attributes holds collaborator-specific metadata (loot table, faction,
	// dialogue hooks…). May be nil.
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Item is an inventory entry.
type Item struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Quantity int    `json:"quantity" yaml:"quantity"`

	// Consumable indicates the item is spent on use (potions, food).
	Consumable bool `json:"consumable,omitempty" yaml:"consumable,omitempty"`
}

// QuestStatus enumerates the lifecycle of a quest.
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
)

// Quest is a tracked objective with completion progress.
type Quest struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Status      QuestStatus `json:"status" yaml:"status"`

	// Progress is completion in [0, 1].
	Progress float64 `json:"progress" yaml:"progress"`

	// Objective is the current step in natural language
	// (e.g., "Bring 5 iron ore to Torvel").
	Objective string `json:"objective,omitempty" yaml:"objective,omitempty"`
}

// Relationship captures the agent's social standing with one NPC.
type Relationship struct {
	// NPCID references the entity ID of the NPC.
	NPCID string `json:"npc_id" yaml:"npc_id"`

	// Name is the NPC's display name.
	Name string `json:"name" yaml:"name"`

	// Affinity is the standing in [-1, 1]: -1 hostile, 0 neutral, 1 trusted.
	Affinity float64 `json:"affinity" yaml:"affinity"`

	// LastDialogue is the most recent exchange, if any.
	LastDialogue string `json:"last_dialogue,omitempty" yaml:"last_dialogue,omitempty"`
}

// State is one snapshot of the world as the game collaborator reports it.
type State struct {
	// Health is the agent's current health.
	Health float64 `json:"health" yaml:"health"`

	// MaxHealth is the agent's maximum health. Zero means unknown; consumers
	// should treat Health as a fraction of 100 in that case.
	MaxHealth float64 `json:"max_health" yaml:"max_health"`

	// Energy is the agent's current stamina/mana resource.
	Energy float64 `json:"energy" yaml:"energy"`

	// Position is where the agent currently is.
	Position Position `json:"position" yaml:"position"`

	// Location is the human-readable name of the current area.
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// Entities lists everything currently visible to the agent.
	Entities []Entity `json:"entities,omitempty" yaml:"entities,omitempty"`

	// Inventory is the agent's current items.
	Inventory []Item `json:"inventory,omitempty" yaml:"inventory,omitempty"`

	// Quests lists tracked quests, active first.
	Quests []Quest `json:"quests,omitempty" yaml:"quests,omitempty"`

	// Relationships lists known NPC standings.
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// HealthFraction returns Health/MaxHealth clamped to [0, 1].
// When MaxHealth is unknown, Health is interpreted as a percentage.
func (s *State) HealthFraction() float64 {
	max := s.MaxHealth
	if max <= 0 {
		max = 100
	}
	f := s.Health / max
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// HostileEntities returns the visible entities flagged hostile.
func (s *State) HostileEntities() []Entity {
	var out []Entity
	for _, e := range s.Entities {
		if e.Hostile {
			out = append(out, e)
		}
	}
	return out
}

// NearbyNPCs returns visible non-hostile NPC entities.
func (s *State) NearbyNPCs() []Entity {
	var out []Entity
	for _, e := range s.Entities {
		if e.Kind == EntityNPC && !e.Hostile {
			out = append(out, e)
		}
	}
	return out
}

// ActiveQuest returns the first quest with status [QuestActive], or nil.
func (s *State) ActiveQuest() *Quest {
	for i := range s.Quests {
		if s.Quests[i].Status == QuestActive {
			return &s.Quests[i]
		}
	}
	return nil
}

// Clone returns a deep copy of s. Slices, maps, and nested attribute maps are
// copied so the result shares no mutable memory with the receiver.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Entities != nil {
		out.Entities = make([]Entity, len(s.Entities))
		for i, e := range s.Entities {
			out.Entities[i] = e
			if e.Attributes != nil {
				attrs := make(map[string]any, len(e.Attributes))
				for k, v := range e.Attributes {
					attrs[k] = v
				}
				out.Entities[i].Attributes = attrs
			}
		}
	}
	if s.Inventory != nil {
		out.Inventory = append([]Item(nil), s.Inventory...)
	}
	if s.Quests != nil {
		out.Quests = append([]Quest(nil), s.Quests...)
	}
	if s.Relationships != nil {
		out.Relationships = append([]Relationship(nil), s.Relationships...)
	}
	return &out
}
