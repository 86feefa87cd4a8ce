package domain

import "encoding/json"

// Operation names an inbound worker request.
type Operation string

// Inbound operations.
const (
	OpSetLayers             Operation = "setLayers"
	OpUpdateLayers          Operation = "updateLayers"
	OpSetImages             Operation = "setImages"
	OpSetReferrer           Operation = "setReferrer"
	OpLoadTile              Operation = "loadTile"
	OpReloadTile            Operation = "reloadTile"
	OpAbortTile             Operation = "abortTile"
	OpRemoveTile            Operation = "removeTile"
	OpRemoveSource          Operation = "removeSource"
	OpLoadData              Operation = "loadData"
	OpLoadDEMTile           Operation = "loadDEMTile"
	OpRemoveDEMTile         Operation = "removeDEMTile"
	OpLoadWorkerSource      Operation = "loadWorkerSource"
	OpSyncRTLPluginState    Operation = "syncRTLPluginState"
	OpLoadRTLTextPlugin     Operation = "loadRTLTextPlugin"
	OpEnforceCacheSizeLimit Operation = "enforceCacheSizeLimit"
)

// Envelope is one inbound request addressed to a map instance.
type Envelope struct {
	Operation Operation       `json:"operation"`
	MapID     MapInstanceID   `json:"map_id"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// LoadWorkerSourceRequest names an extension manifest to import.
type LoadWorkerSourceRequest struct {
	URL string `json:"url"`
}

// LoadDataRequest supplies data to a source that accepts it (geojson).
type LoadDataRequest struct {
	Type   SourceType      `json:"type"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data,omitempty"`
	URL    string          `json:"url,omitempty"`
}

// Text shaping plugin statuses.
const (
	PluginUnavailable = "unavailable"
	PluginDeferred    = "deferred"
	PluginLoading     = "loading"
	PluginLoaded      = "loaded"
	PluginError       = "error"
)

// PluginState is the text shaping plugin state shared by the map.
type PluginState struct {
	Status string `json:"plugin_status"`
	URL    string `json:"plugin_url,omitempty"`
}

// OutboundMessage is a message sent by a handler back to its map instance.
type OutboundMessage struct {
	ID     string        `json:"id"`
	Type   string        `json:"type"`
	MapID  MapInstanceID `json:"map_id"`
	Data   any           `json:"data,omitempty"`
	SentAt int64         `json:"sent_at"`
}

// Callback receives the asynchronous result of a worker operation. Exactly one of
// data and err is meaningful; operations without a payload call it with (nil, nil).
type Callback func(data any, err error)
