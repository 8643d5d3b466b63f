// internal/models/item.go
package models

// Item 可在地点中发现的物品
type Item struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Location    string `json:"location" yaml:"location"`
}

// Location 地点及其连通关系
type Location struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Connections []string `json:"connections" yaml:"connections"`
	Characters  []string `json:"characters" yaml:"characters"`
	Items       []string `json:"items" yaml:"items"`
}
