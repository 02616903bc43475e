package search

// Logical index namespaces. Names are fixed protocol; shard and replica
// counts are configuration.
const (
	IndexUsers       = "users"
	IndexMetadata    = "metadata"
	IndexCollections = "collections"
	IndexSites       = "sites"
)

func keyword() map[string]interface{} {
	return map[string]interface{}{"type": "keyword"}
}

func double() map[string]interface{} {
	return map[string]interface{}{"type": "double"}
}

func integer() map[string]interface{} {
	return map[string]interface{}{"type": "integer"}
}

// usersMapping keys user documents by username; the settings blob is left
// unindexed since nothing ever queries on a preference.
func usersMapping() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"username":     keyword(),
			"passwordHash": map[string]interface{}{"type": "keyword", "index": false},
			"settings": map[string]interface{}{
				"type":    "object",
				"enabled": false,
			},
			"createdAt": map[string]interface{}{"type": "date"},
		},
	}
}

// metadataMapping is the schema of the per-image documents. Field names and
// types are wire protocol shared with every other reader of the index.
func metadataMapping() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"storagePath":  keyword(),
			"collectionID": keyword(),
			"imageMetadata": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"dateTaken":      map[string]interface{}{"type": "date"},
					"yearTaken":      integer(),
					"monthTaken":     integer(),
					"hourTaken":      integer(),
					"dayOfYearTaken": integer(),
					"dayOfWeekTaken": integer(),
					"siteCode":       keyword(),
					"position":       map[string]interface{}{"type": "geo_point"},
					"elevation":      double(),
					"droneMaker":     keyword(),
					"cameraModel":    keyword(),
					"speed": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"x": double(),
							"y": double(),
							"z": double(),
						},
					},
					"rotation": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"roll":  double(),
							"pitch": double(),
							"yaw":   double(),
						},
					},
					"altitude":    double(),
					"fileType":    keyword(),
					"focalLength": double(),
					"width":       double(),
					"height":      double(),
				},
			},
		},
	}
}

// collectionsMapping nests permissions and uploads so entries can be
// queried as units.
func collectionsMapping() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"id":           keyword(),
			"name":         keyword(),
			"organization": keyword(),
			"contactInfo":  keyword(),
			"description":  map[string]interface{}{"type": "text"},
			"permissions": map[string]interface{}{
				"type": "nested",
				"properties": map[string]interface{}{
					"username": keyword(),
					"read":     map[string]interface{}{"type": "boolean"},
					"upload":   map[string]interface{}{"type": "boolean"},
					"owner":    map[string]interface{}{"type": "boolean"},
				},
			},
			"uploads": map[string]interface{}{
				"type": "nested",
				"properties": map[string]interface{}{
					"uploadUser":    keyword(),
					"uploadDate":    map[string]interface{}{"type": "date"},
					"imageCount":    integer(),
					"uploadPath":    keyword(),
					"storageMethod": keyword(),
				},
			},
		},
	}
}

func sitesMapping() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"name":     keyword(),
			"code":     keyword(),
			"type":     keyword(),
			"details":  keyword(),
			"boundary": map[string]interface{}{"type": "geo_shape"},
		},
	}
}
