package nsen

// ChannelInfo describes one of the fixed Nsen stations.
type ChannelInfo struct {
	// ID is the channel type as it appears in broadcast metadata,
	// e.g. "nsen/vocaloid".
	ID string
	// Name is the station's display name.
	Name string
}

// Channels lists the Nsen stations the platform operates.
var Channels = []ChannelInfo{
	{ID: "nsen/vocaloid", Name: "VOCALOID"},
	{ID: "nsen/toho", Name: "東方"},
	{ID: "nsen/nicoindies", Name: "ニコニコインディーズ"},
	{ID: "nsen/sing", Name: "歌ってみた"},
	{ID: "nsen/play", Name: "演奏してみた"},
	{ID: "nsen/pv", Name: "PV"},
	{ID: "nsen/hotaru", Name: "蛍の光"},
	{ID: "nsen/allgenre", Name: "オールジャンル"},
}

// ChannelByID returns the station for an id, or nil when the id is not
// an Nsen station.
func ChannelByID(id string) *ChannelInfo {
	for i := range Channels {
		if Channels[i].ID == id {
			return &Channels[i]
		}
	}
	return nil
}

// ChannelByType returns the station for a broadcast's nsen type, the
// "vocaloid" in "nsen/vocaloid", or nil for an unknown type.
func ChannelByType(nsenType string) *ChannelInfo {
	return ChannelByID("nsen/" + nsenType)
}
