package objectclient

import (
	"fmt"
	"path"
)

// FileKey is where the raw bytes of one file version are archived.
func FileKey(ownerID, setID, fileID, filename string) string {
	return FilePrefix(ownerID, setID, fileID) + path.Base("/"+filename)
}

// FilePrefix covers every object archived for one file version.
func FilePrefix(ownerID, setID, fileID string) string {
	return SetPrefix(ownerID, setID) + fileID + "/"
}

// SetPrefix covers every object archived for one knowledge set.
func SetPrefix(ownerID, setID string) string {
	return fmt.Sprintf("users/%s/knowledge-sets/%s/", ownerID, setID)
}
