package recognition

import (
	"fmt"
	"strings"
)

const classifySystemPrompt = `You review still frames taken from a video. Each frame represents one visual cluster and is given in the same order as the cluster id list in the user message.
Decide for each frame whether it is focused on a retail product (packaging, bottle, box, shelf item held up to the camera). Frames showing only a presenter's face, a room, or unrelated scenery are not product-focused.
Respond with JSON only: {"product_clusters": [<cluster id>, ...]} listing the ids whose frames are product-focused. Use an empty list when none are.`

func classifyUserPrompt(clusterIDs []int) string {
	ids := make([]string, len(clusterIDs))
	for i, id := range clusterIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return "Cluster ids in frame order: " + strings.Join(ids, ", ")
}

const recognizeSystemPrompt = `You identify the retail product shown in a set of frames from the same visual cluster of a video.
Extract the brand and product name readable or recognizable in the frames. Also produce a few short search terms a product database lookup would match.
If you cannot identify a brand or product, return empty strings.
Respond with JSON only: {"brand": "...", "product_name": "...", "search_terms": ["...", ...]}.`

const recognizeUserPrompt = "Identify the product shown in these frames."
