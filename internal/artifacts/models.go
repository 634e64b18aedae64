package artifacts

import "time"

// Payload is the Windows image archive found inside an ISO.
type Payload struct {
	// Path is the location inside the ISO, for example sources/install.wim.
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ImageInfo describes one image index of a payload.
type ImageInfo struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	EditionID    string `json:"edition_id,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Build        string `json:"build"`
}

// Metadata is written next to every published ISO.
type Metadata struct {
	RunID          string      `json:"run_id"`
	Target         string      `json:"target"`
	Title          string      `json:"title"`
	Build          string      `json:"build"`
	Edition        string      `json:"edition"`
	VirtualEdition string      `json:"virtual_edition,omitempty"`
	Language       string      `json:"language"`
	Architecture   string      `json:"architecture"`
	Payload        Payload     `json:"payload"`
	Images         []ImageInfo `json:"images"`
	// ImagesVerified is false when the ISO could not be read through ISO 9660
	// and the image build check was skipped.
	ImagesVerified bool        `json:"images_verified"`
	SHA256         string      `json:"sha256"`
	APIURL         string      `json:"api_url"`
	DownloadURL    string      `json:"download_url"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Published lists the files making up one published ISO.
type Published struct {
	ISO      string
	Checksum string
	Metadata string
}
