// Package collections reads AI collection definitions embedded in Kometa
// YAML files.
//
// A definition is a comment block placed directly above a collection key:
//
//	collections:
//	  # === KOMETA-AI ===
//	  # enabled: true
//	  # confidence_threshold: 0.8
//	  # prompt: |
//	  #   Movies where Christmas is central to the plot.
//	  # === END KOMETA-AI ===
//	  Christmas Movies:
//	    radarr_taglist: KAI-christmas-movies
//
// The block body, with its comment markers removed, is YAML. The collection
// name is taken from the first non-comment line after the end marker.
package collections
