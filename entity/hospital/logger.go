package hospital

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "hospital")
