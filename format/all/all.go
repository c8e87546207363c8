// Package all links every built-in codec into the format registry.
package all

import (
	_ "urltable/format/arrowipc"
	_ "urltable/format/csv"
	_ "urltable/format/jsonl"
	_ "urltable/format/msgpack"
)
