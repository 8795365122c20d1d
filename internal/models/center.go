package models

// Center is read-only collaborator data. Centers and their services are
// managed elsewhere; the booking core only resolves references against
// the directory loaded at startup.
type Center struct {
	ID       int64           `yaml:"id" json:"id"`
	Name     string          `yaml:"name" json:"name"`
	Timezone string          `yaml:"timezone" json:"timezone,omitempty"`
	IsActive bool            `yaml:"is_active" json:"is_active"`
	Services []CenterService `yaml:"services" json:"services,omitempty"`
}

type CenterService struct {
	ID              int64  `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
}

// Service returns the center's service with the given id, or nil.
func (c *Center) Service(id int64) *CenterService {
	for i := range c.Services {
		if c.Services[i].ID == id {
			return &c.Services[i]
		}
	}
	return nil
}
