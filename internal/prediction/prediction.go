package prediction

type Label string

const (
	Damage   Label = "damage"
	NoDamage Label = "no_damage"
)

// Threshold is exclusive: a probability of exactly 0.5 is NoDamage.
const Threshold float32 = 0.5

// Map labels the sigmoid output for the damage class.
func Map(probability float32) Label {
	if probability > Threshold {
		return Damage
	}
	return NoDamage
}
